package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"grantdesk/internal/domain"
)

func TestReportService_OpenIsIdempotent(t *testing.T) {
	h := newHarness(t)
	first := h.open(t)
	second := h.open(t)

	if first.ID != second.ID {
		t.Fatalf("expected the same report, got %s and %s", first.ID, second.ID)
	}
	if first.Status != domain.StatusDraft || first.Version != 1 {
		t.Fatalf("unexpected initial state %s/%d", first.Status, first.Version)
	}
	if first.OrganizationID != testOrgID {
		t.Fatalf("expected organization from project, got %q", first.OrganizationID)
	}
	types := h.auditTypes(t)
	if len(types) != 1 || types[0] != domain.AuditEventReportOpened {
		t.Fatalf("expected a single opened event, got %v", types)
	}
}

func TestReportService_ConcurrentOpenCreatesOneReport(t *testing.T) {
	h := newHarness(t)
	const workers = 16
	key := domain.ReportKey{SubjectID: testSubjectID, ProjectID: testProjectID, Period: domain.Period{Year: 2026, Month: 3}}
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			view, err := h.reports.Open(context.Background(), owner, key)
			ids[i], errs[i] = view.Report.ID, err
		}(i)
	}
	wg.Wait()
	for i, id := range ids {
		if errs[i] != nil {
			t.Fatalf("open: %v", errs[i])
		}
		if id != ids[0] {
			t.Fatalf("expected one report id, got %v", ids)
		}
	}
	opened := 0
	for _, eventType := range h.auditTypes(t) {
		if eventType == domain.AuditEventReportOpened {
			opened++
		}
	}
	if opened != 1 {
		t.Fatalf("expected one opened event, got %d", opened)
	}
}

func TestReportService_OpenValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := []struct {
		name      string
		principal domain.Principal
		key       domain.ReportKey
		want      error
	}{
		{"bad month", owner, domain.ReportKey{SubjectID: testSubjectID, ProjectID: testProjectID, Period: domain.Period{Year: 2026, Month: 13}}, domain.ErrInvalidArgument},
		{"missing subject", owner, domain.ReportKey{ProjectID: testProjectID, Period: domain.Period{Year: 2026, Month: 1}}, domain.ErrInvalidArgument},
		{"unknown project", owner, domain.ReportKey{SubjectID: testSubjectID, ProjectID: "nope", Period: domain.Period{Year: 2026, Month: 1}}, domain.ErrNotFound},
		{"other subject", stranger, domain.ReportKey{SubjectID: testSubjectID, ProjectID: testProjectID, Period: domain.Period{Year: 2026, Month: 1}}, domain.ErrForbidden},
		{"anonymous", domain.Principal{}, domain.ReportKey{SubjectID: testSubjectID, ProjectID: testProjectID, Period: domain.Period{Year: 2026, Month: 1}}, domain.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.reports.Open(ctx, tc.principal, tc.key)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestReportService_SaveNormalizesDeliverables(t *testing.T) {
	h := newHarness(t)
	report := h.open(t)
	h.saveComplete(t, report.ID)

	view, err := h.reports.Get(context.Background(), owner, report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := []string{"field notes", "core inventory"}
	if len(view.Payload.Deliverables) != len(want) {
		t.Fatalf("expected %v, got %v", want, view.Payload.Deliverables)
	}
	for i := range want {
		if view.Payload.Deliverables[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, view.Payload.Deliverables)
		}
	}
	if view.Payload.LastSavedAt == nil {
		t.Fatal("expected last_saved_at to be set")
	}
	if view.Report.Version != 1 {
		t.Fatalf("saves must not bump the version, got %d", view.Report.Version)
	}
}

func TestReportService_SaveRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t)
	report := h.open(t)
	hours := 745
	_, err := h.reports.Save(context.Background(), owner, report.ID, domain.ReportPayload{Hours: &hours})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestReportService_SaveRejectsUnrenderableText(t *testing.T) {
	h := newHarness(t)
	report := h.open(t)
	ctx := context.Background()

	_, err := h.reports.Save(ctx, owner, report.ID, domain.ReportPayload{
		Activities:   "Сбор образцов",
		Deliverables: []string{"отчёт", "研究ノート"},
	})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Fields["ReportPayload.Deliverables[1]"] != "renderable" {
		t.Fatalf("expected the second deliverable to be flagged, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["ReportPayload.Activities"]; ok {
		t.Fatalf("cyrillic activities must be accepted, got %v", verr.Fields)
	}

	if _, err := h.reports.Save(ctx, owner, report.ID, domain.ReportPayload{Activities: "Сбор образцов", Results: "Ηλιακή ακτινοβολία"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	view, err := h.reports.Get(ctx, owner, report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Payload.Activities != "Сбор образцов" {
		t.Fatalf("expected activities to round-trip, got %q", view.Payload.Activities)
	}
}

func TestReportService_SubmitRequiresMandatoryFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	if _, err := h.reports.Save(ctx, owner, report.ID, domain.ReportPayload{Activities: "Field work", Results: "   "}); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := h.reports.Submit(ctx, owner, report.ID, report.Version)
	var terr *domain.TransitionError
	if !errors.As(err, &terr) || !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(terr.Allowed) == 0 {
		t.Fatal("expected allowed actions on the error")
	}
	current, _ := h.reportRepo.GetByID(ctx, report.ID)
	if current.Status != domain.StatusDraft || current.Version != report.Version {
		t.Fatalf("report must stay an unchanged draft, got %s/%d", current.Status, current.Version)
	}
	if jobs, _ := h.jobRepo.ListByReport(ctx, report.ID); len(jobs) != 0 {
		t.Fatalf("no job may be created, got %d", len(jobs))
	}
}

func TestReportService_SaveAfterSubmitIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	h.saveComplete(t, report.ID)
	if _, err := h.reports.Submit(ctx, owner, report.ID, report.Version); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := h.reports.Save(ctx, owner, report.ID, domain.ReportPayload{Activities: "late edit", Results: "x"})
	if !errors.Is(err, domain.ErrNotEditable) {
		t.Fatalf("expected not editable, got %v", err)
	}
}

func TestReportService_StaleVersionConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	h.saveComplete(t, report.ID)
	_, err := h.reports.Submit(ctx, owner, report.ID, report.Version+5)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReportService_ConcurrentSubmitOnlyOneWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	h.saveComplete(t, report.ID)

	const workers = 2
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.reports.Submit(ctx, owner, report.ID, report.Version)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one submit to succeed, got %d", succeeded)
	}
	jobs, _ := h.jobRepo.ListByReport(ctx, report.ID)
	if len(jobs) != 1 {
		t.Fatalf("expected one generation job, got %d", len(jobs))
	}
}

func TestReportService_ReviewFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	h.saveComplete(t, report.ID)
	submitted, err := h.reports.Submit(ctx, owner, report.ID, report.Version)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, err := h.reports.StartReview(ctx, owner, report.ID, 0); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("owner may not start review, got %v", err)
	}
	inReview, err := h.reports.StartReview(ctx, reviewer, report.ID, submitted.Report.Version)
	if err != nil {
		t.Fatalf("start review: %v", err)
	}
	if _, err := h.reports.Return(ctx, reviewer, report.ID, inReview.Version, "  "); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("blank reason must be rejected, got %v", err)
	}
	approved, err := h.reports.Approve(ctx, reviewer, report.ID, inReview.Version)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved || approved.ApprovedBy != reviewer.Subject {
		t.Fatalf("unexpected approved state %+v", approved)
	}
	if _, err := h.reports.Cancel(ctx, owner, report.ID, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("approved report cannot be cancelled, got %v", err)
	}
	if err := VerifyOrganizationAuditChain(ctx, h.audit, auditHasher, testOrgID); err != nil {
		t.Fatalf("audit chain: %v", err)
	}
}

func TestReportService_ReopenOnlyFromReturned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	report := h.open(t)
	if _, err := h.reports.Reopen(ctx, owner, report.ID, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected reopen from draft to fail, got %v", err)
	}

	h.saveComplete(t, report.ID)
	if _, err := h.reports.Submit(ctx, owner, report.ID, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.reports.StartReview(ctx, reviewer, report.ID, 0); err != nil {
		t.Fatalf("start review: %v", err)
	}
	returned, err := h.reports.Return(ctx, reviewer, report.ID, 0, "Add the hours breakdown")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if returned.ReturnReason != "Add the hours breakdown" || returned.LockedAt != nil {
		t.Fatalf("unexpected returned state %+v", returned)
	}
	reopened, err := h.reports.Reopen(ctx, owner, report.ID, returned.Version)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.StatusDraft || reopened.ReturnReason != "" {
		t.Fatalf("unexpected reopened state %s %q", reopened.Status, reopened.ReturnReason)
	}
	view, err := h.reports.Get(ctx, owner, report.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Payload.Results == "" {
		t.Fatal("reopen must keep the payload")
	}
}

func TestReportService_SubmitSurvivesQueueFailure(t *testing.T) {
	h := newHarness(t)
	h.queue.reject = true
	ctx := context.Background()
	report := h.open(t)
	h.saveComplete(t, report.ID)

	result, err := h.reports.Submit(ctx, owner, report.ID, 0)
	if err != nil {
		t.Fatalf("submit must stand when the queue is full: %v", err)
	}
	if result.Report.Status != domain.StatusSubmitted || result.JobID == "" {
		t.Fatalf("expected submitted report with a job, got %s %q", result.Report.Status, result.JobID)
	}

	h.queue.reject = false
	n, err := h.generation.Recover(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("expected one job recovered, got %d %v", n, err)
	}
	job, _ := h.jobRepo.GetByID(ctx, result.JobID)
	if job.Status != domain.JobSuccess {
		t.Fatalf("expected recovered job to succeed, got %s", job.Status)
	}
}
