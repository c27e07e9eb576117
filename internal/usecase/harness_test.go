package usecase

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/memdb"
	"grantdesk/internal/infra/pdf"
	"grantdesk/internal/infra/policyopa"
	"grantdesk/internal/infra/storage"

	"github.com/sirupsen/logrus"
)

const (
	testOrgID     = "org-1"
	testProjectID = "proj-1"
	testSubjectID = "subject-1"
	testSecret    = "local-signing-secret-0123456789"
)

var (
	owner    = domain.Principal{Subject: testSubjectID}
	reviewer = domain.Principal{Subject: "reviewer-1", Roles: []string{domain.RoleReviewer}}
	stranger = domain.Principal{Subject: "someone-else"}

	auditHasher = cryptoinfra.AuditHasher{}
)

// testQueue runs tasks inline with a bounded number of attempts, or holds
// them until drain when manual is set.
type testQueue struct {
	mu          sync.Mutex
	manual      bool
	reject      bool
	maxAttempts int
	pending     []BackgroundTask
}

func (q *testQueue) Enqueue(task BackgroundTask) error {
	q.mu.Lock()
	if q.reject {
		q.mu.Unlock()
		return errors.New("queue full")
	}
	if q.manual {
		q.pending = append(q.pending, task)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()
	q.run(task)
	return nil
}

func (q *testQueue) drain() int {
	q.mu.Lock()
	tasks := q.pending
	q.pending = nil
	q.mu.Unlock()
	for _, task := range tasks {
		q.run(task)
	}
	return len(tasks)
}

func (q *testQueue) run(task BackgroundTask) {
	ctx := context.Background()
	attempts := q.maxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = task.Run(ctx, attempt); err == nil {
			return
		}
		if IsPermanentFailure(err) {
			break
		}
	}
	if task.GiveUp != nil {
		task.GiveUp(ctx, err)
	}
}

// flakyLegacy fails every call while err is set.
type flakyLegacy struct {
	*memdb.LegacyRepository
	err error
}

func (f *flakyLegacy) LinkResubmissions(ctx context.Context, subjectID string, period domain.Period, reportID string, linkedAt time.Time) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.LegacyRepository.LinkResubmissions(ctx, subjectID, period, reportID, linkedAt)
}

type harness struct {
	reportRepo *memdb.ReportRepository
	jobRepo    *memdb.JobRepository
	docRepo    *memdb.DocumentRepository
	audit      *memdb.AuditEventRepository
	legacy     *flakyLegacy
	queue      *testQueue
	artifacts  *storage.LocalStore
	directory  *memdb.DirectoryRepository
	layer      IntegrityLayer
	root       string

	reports    *ReportService
	generation *GenerationService
	integrity  *IntegrityService
	linker     *LegacyLinker
}

type harnessOption func(*harness)

func withManualQueue() harnessOption {
	return func(h *harness) { h.queue.manual = true }
}

func withPlaintext() harnessOption {
	return func(h *harness) { h.layer = cryptoinfra.NewLayer(nil) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	root := t.TempDir()
	artifacts, err := storage.NewLocalStore(root, testSecret, "http://localhost:8080")
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	sealer, err := cryptoinfra.NewSealer(make([]byte, cryptoinfra.KeySize))
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	authz, err := policyopa.NewEngine(ctx, "")
	if err != nil {
		t.Fatalf("policy engine: %v", err)
	}
	directory := memdb.NewDirectoryRepository()
	_ = directory.UpsertOrganization(ctx, domain.Organization{ID: testOrgID, Name: "Open Science Fund", HeaderLine: "Monthly activity report", AccentColor: "#1f4e79"})
	_ = directory.UpsertProject(ctx, domain.Project{ID: testProjectID, Code: "OSF-12", Title: "Soil Carbon Survey", OrganizationID: testOrgID})
	_ = directory.UpsertSubject(ctx, domain.Subject{ID: testSubjectID, FullName: "Ana Pereira"})

	log := logrus.New()
	log.SetOutput(io.Discard)
	clock := func() time.Time { return time.Now().UTC() }

	store := memdb.NewStore()
	h := &harness{
		reportRepo: store.Reports(),
		jobRepo:    store.Jobs(),
		docRepo:    store.Documents(),
		audit:      memdb.NewAuditEventRepository(),
		legacy:     &flakyLegacy{LegacyRepository: memdb.NewLegacyRepository()},
		queue:      &testQueue{},
		artifacts:  artifacts,
		directory:  directory,
		layer:      cryptoinfra.NewLayer(sealer),
		root:       root,
	}
	for _, opt := range opts {
		opt(h)
	}

	emitter := NewAuditEmitter(h.audit, clock)
	builder := pdf.NewBuilder()
	h.generation = &GenerationService{
		Reports:      h.reportRepo,
		Jobs:         h.jobRepo,
		Documents:    h.docRepo,
		Directory:    directory,
		Builder:      builder,
		Inspector:    pdf.Inspector{},
		Integrity:    h.layer,
		Store:        artifacts,
		Queue:        h.queue,
		Authz:        authz,
		Audit:        emitter,
		Log:          log,
		Clock:        clock,
		PollInterval: 5 * time.Millisecond,
	}
	h.linker = &LegacyLinker{Repo: h.legacy, Queue: h.queue, Audit: emitter, Log: log, Clock: clock}
	h.reports = &ReportService{
		Reports:    h.reportRepo,
		Directory:  directory,
		Authz:      authz,
		Audit:      emitter,
		Generation: h.generation,
		Legacy:     h.linker,
		Glyphs:     builder,
		Log:        log,
		Clock:      clock,
	}
	h.integrity = &IntegrityService{
		Reports:   h.reportRepo,
		Documents: h.docRepo,
		Store:     artifacts,
		Integrity: h.layer,
		Authz:     authz,
		Audit:     emitter,
		Log:       log,
	}
	return h
}

func (h *harness) open(t *testing.T) domain.Report {
	t.Helper()
	view, err := h.reports.Open(context.Background(), owner, domain.ReportKey{
		SubjectID: testSubjectID,
		ProjectID: testProjectID,
		Period:    domain.Period{Year: 2026, Month: 2},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return view.Report
}

func (h *harness) saveComplete(t *testing.T, reportID string) {
	t.Helper()
	hours := 120
	_, err := h.reports.Save(context.Background(), owner, reportID, domain.ReportPayload{
		Activities:   "Collected 40 soil cores from the northern plots.\n\nCalibrated the spectrometer.",
		Results:      "Carbon content is within the expected band.",
		Hours:        &hours,
		Deliverables: []string{"  field notes  ", "", "core inventory"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func (h *harness) auditTypes(t *testing.T) []domain.AuditEventType {
	t.Helper()
	events, err := h.audit.ListByOrganization(context.Background(), testOrgID)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	return eventTypes(events)
}

func eventTypes(events []domain.AuditEvent) []domain.AuditEventType {
	out := make([]domain.AuditEventType, 0, len(events))
	for _, event := range events {
		out = append(out, event.EventType)
	}
	return out
}

// tamper flips the last byte of a stored artifact.
func (h *harness) tamper(t *testing.T, objectPath string) {
	t.Helper()
	full := filepath.Join(h.root, filepath.FromSlash(objectPath))
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(full, data, 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
}
