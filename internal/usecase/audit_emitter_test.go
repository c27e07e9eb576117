package usecase

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"grantdesk/internal/domain"
	"grantdesk/internal/infra/memdb"
)

func listAudit(t *testing.T, repo *memdb.AuditEventRepository, organizationID string) []domain.AuditEvent {
	t.Helper()
	events, err := repo.ListByOrganization(context.Background(), organizationID)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	return events
}

func TestAuditEmitter_ReportTransition_HashesActor(t *testing.T) {
	repo := memdb.NewAuditEventRepository()
	emitter := NewAuditEmitter(repo, func() time.Time {
		return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	})

	report := domain.Report{
		ID:             "report-1",
		OrganizationID: testOrgID,
		ProjectID:      testProjectID,
		SubjectID:      testSubjectID,
		Period:         domain.Period{Year: 2026, Month: 1},
		Status:         domain.StatusSubmitted,
		Version:        3,
	}
	actor := domain.Actor{Type: domain.ActorTypeUser, ID: "ana@example.org"}
	if err := emitter.EmitReportTransition(context.Background(), domain.AuditEventReportSubmitted, actor, report, nil); err != nil {
		t.Fatalf("emit audit event: %v", err)
	}
	events := listAudit(t, repo, testOrgID)
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	event := events[0]
	if event.ActorIDHash == "" || event.ActorIDHash == actor.ID {
		t.Fatal("expected actor_id_hash to be hashed")
	}
	if _, err := hex.DecodeString(event.ActorIDHash); err != nil || len(event.ActorIDHash) != 64 {
		t.Fatal("actor_id_hash must be lowercase sha256 hex")
	}
	if strings.Contains(string(event.Payload.([]byte)), actor.ID) {
		t.Fatal("payload should not contain the raw actor id")
	}
	if event.OrganizationID != testOrgID || event.TargetID != report.ID {
		t.Fatalf("unexpected event routing: org=%s target=%s", event.OrganizationID, event.TargetID)
	}
	if !event.CreatedAt.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock time, got %s", event.CreatedAt)
	}
}

func TestAuditEmitter_RejectsIncompleteEvent(t *testing.T) {
	emitter := NewAuditEmitter(memdb.NewAuditEventRepository(), nil)
	_, err := emitter.Emit(context.Background(), domain.AuditEvent{EventType: domain.AuditEventReportOpened})
	if err == nil {
		t.Fatal("expected missing fields to be rejected")
	}
	var nilEmitter *AuditEmitter
	if _, err := nilEmitter.Emit(context.Background(), domain.AuditEvent{}); err == nil {
		t.Fatal("expected nil emitter to fail")
	}
}

func TestAuditEmitter_VerificationMismatchEvent(t *testing.T) {
	repo := memdb.NewAuditEventRepository()
	emitter := NewAuditEmitter(repo, nil)
	report := domain.Report{ID: "report-1", OrganizationID: testOrgID}
	doc := domain.GeneratedDocument{ID: "doc-1", ReportID: report.ID, Version: 2, ContentHash: strings.Repeat("a", 64)}

	if err := emitter.EmitVerification(context.Background(), owner.Actor(), report, doc, false); err != nil {
		t.Fatalf("emit: %v", err)
	}
	event := listAudit(t, repo, testOrgID)[0]
	if event.EventType != domain.AuditEventIntegrityMismatch {
		t.Fatalf("expected integrity mismatch event, got %s", event.EventType)
	}
	if event.Result != domain.AuditResultFailure || event.ErrorCode != "INTEGRITY_MISMATCH" {
		t.Fatalf("unexpected result %s/%s", event.Result, event.ErrorCode)
	}
}

func TestVerifyOrganizationAuditChain(t *testing.T) {
	ctx := context.Background()
	repo := memdb.NewAuditEventRepository()
	emitter := NewAuditEmitter(repo, nil)
	report := domain.Report{ID: "report-1", OrganizationID: testOrgID, Status: domain.StatusDraft, Version: 1}
	other := domain.Report{ID: "report-2", OrganizationID: "org-2", Status: domain.StatusDraft, Version: 1}

	for i := 0; i < 3; i++ {
		if err := emitter.EmitReportTransition(ctx, domain.AuditEventReportOpened, owner.Actor(), report, map[string]any{"n": i}); err != nil {
			t.Fatalf("emit: %v", err)
		}
		if err := emitter.EmitReportTransition(ctx, domain.AuditEventReportOpened, owner.Actor(), other, nil); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, testOrgID); err != nil {
		t.Fatalf("expected valid chain: %v", err)
	}
	if err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, "org-2"); err != nil {
		t.Fatalf("expected valid chain: %v", err)
	}
	if err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, "org-empty"); err != nil {
		t.Fatalf("expected empty chain to verify: %v", err)
	}

	repo.Mutate(func(events []domain.AuditEvent) {
		for i := range events {
			if events[i].OrganizationID == testOrgID && events[i].Seq == 2 {
				events[i].Payload = []byte(`{"n":7}`)
			}
		}
	})
	err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, testOrgID)
	if err == nil || !strings.Contains(err.Error(), "payload hash mismatch at seq 2") {
		t.Fatalf("expected payload tamper to be detected, got %v", err)
	}
	if err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, "org-2"); err != nil {
		t.Fatalf("other organization chain must be unaffected: %v", err)
	}
}

func TestVerifyOrganizationAuditChain_DetectsReorderedLink(t *testing.T) {
	ctx := context.Background()
	repo := memdb.NewAuditEventRepository()
	emitter := NewAuditEmitter(repo, nil)
	report := domain.Report{ID: "report-1", OrganizationID: testOrgID}
	for i := 0; i < 2; i++ {
		if err := emitter.EmitReportTransition(ctx, domain.AuditEventReportOpened, owner.Actor(), report, nil); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	repo.Mutate(func(events []domain.AuditEvent) {
		events[1].PrevEventHash = strings.Repeat("f", 64)
	})
	err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, testOrgID)
	if err == nil || !strings.Contains(err.Error(), "prev hash mismatch at seq 2") {
		t.Fatalf("expected broken link to be detected, got %v", err)
	}
}

func TestVerifyOrganizationAuditChain_MatchesAppendHashing(t *testing.T) {
	ctx := context.Background()
	repo := memdb.NewAuditEventRepository()
	emitter := NewAuditEmitter(repo, nil)
	orgID := "fundação <norte> &  sul"
	report := domain.Report{ID: "report-1", OrganizationID: orgID}
	for i := 0; i < 3; i++ {
		payload := map[string]any{"note": "revisão <b>" + strings.Repeat("é", i) + "</b>", "n": i}
		if err := emitter.EmitReportTransition(ctx, domain.AuditEventReportOpened, owner.Actor(), report, payload); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	if err := VerifyOrganizationAuditChain(ctx, repo, auditHasher, orgID); err != nil {
		t.Fatalf("expected chain written by append to verify: %v", err)
	}

	err := VerifyOrganizationAuditChain(ctx, repo, otherGenesis{auditHasher}, orgID)
	if err == nil || !strings.Contains(err.Error(), "prev hash mismatch at seq 1") {
		t.Fatalf("expected verification to use the supplied hasher, got %v", err)
	}
}

type otherGenesis struct {
	AuditChainHasher
}

func (otherGenesis) GenesisHash() string {
	return strings.Repeat("1", 64)
}
