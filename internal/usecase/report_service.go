package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grantdesk/internal/domain"

	"github.com/sirupsen/logrus"
)

// ReportService owns the report lifecycle: opening drafts, saving payloads
// and every status transition.
type ReportService struct {
	Reports    ReportRepository
	Directory  DirectoryRepository
	Authz      Authorizer
	Audit      *AuditEmitter
	Generation *GenerationService
	Legacy     *LegacyLinker
	Glyphs     GlyphChecker
	Log        logrus.FieldLogger
	Clock      Clock
}

type ReportView struct {
	Report         domain.Report
	Payload        domain.ReportPayload
	AllowedActions []domain.Action
}

type SubmitResult struct {
	Report domain.Report
	JobID  string
}

func (s *ReportService) Open(ctx context.Context, principal domain.Principal, key domain.ReportKey) (ReportView, error) {
	if err := key.Validate(); err != nil {
		return ReportView{}, err
	}
	key.SubjectID = strings.TrimSpace(key.SubjectID)
	key.ProjectID = strings.TrimSpace(key.ProjectID)

	project, err := s.Directory.GetProject(ctx, key.ProjectID)
	if err != nil {
		return ReportView{}, fmt.Errorf("resolve project %s: %w", key.ProjectID, err)
	}
	draft := domain.NewDraft(key, project.OrganizationID, s.now())
	if err := s.authorize(ctx, principal, domain.ActionOpen, draft); err != nil {
		return ReportView{}, err
	}

	report, created, err := s.Reports.CreateIfAbsent(ctx, draft)
	if err != nil {
		return ReportView{}, err
	}
	if created {
		s.audit(ctx, domain.AuditEventReportOpened, principal.Actor(), report, nil)
	}
	payload, err := s.Reports.GetPayload(ctx, report.ID)
	if err != nil {
		return ReportView{}, err
	}
	return newReportView(report, payload), nil
}

func (s *ReportService) Get(ctx context.Context, principal domain.Principal, reportID string) (ReportView, error) {
	report, err := s.load(ctx, principal, reportID, domain.ActionRead)
	if err != nil {
		return ReportView{}, err
	}
	payload, err := s.Reports.GetPayload(ctx, report.ID)
	if err != nil {
		return ReportView{}, err
	}
	return newReportView(report, payload), nil
}

// Save overwrites the payload of an editable report and returns the save time.
func (s *ReportService) Save(ctx context.Context, principal domain.Principal, reportID string, payload domain.ReportPayload) (time.Time, error) {
	if err := payload.Validate(); err != nil {
		return time.Time{}, err
	}
	if err := checkRenderable(s.Glyphs, payload); err != nil {
		return time.Time{}, err
	}
	report, err := s.load(ctx, principal, reportID, domain.ActionSave)
	if err != nil {
		return time.Time{}, err
	}
	if !report.Status.Editable() {
		return time.Time{}, fmt.Errorf("%w: status %s", domain.ErrNotEditable, report.Status)
	}
	savedAt := s.now()
	if _, err := s.Reports.SavePayload(ctx, report.ID, payload.Normalized(), savedAt); err != nil {
		return time.Time{}, err
	}
	return savedAt, nil
}

// Submit locks the report for review and starts document generation. The
// submission stands even when the generation job cannot be started; the
// caller then gets no job id and can request a regeneration.
func (s *ReportService) Submit(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64) (SubmitResult, error) {
	actor := principal.Actor()
	report, err := s.transition(ctx, principal, reportID, expectedVersion, domain.ActionSubmit, domain.AuditEventReportSubmitted, nil,
		func(r *domain.Report, payload domain.ReportPayload) error {
			return r.Submit(payload, actor, s.now())
		})
	if err != nil {
		return SubmitResult{}, err
	}

	result := SubmitResult{Report: report}
	if s.Generation != nil {
		job, err := s.Generation.Start(ctx, report, actor)
		if err != nil {
			s.logger().WithError(err).WithField("report_id", report.ID).Error("failed to start document generation")
		} else {
			result.JobID = job.ID
		}
	}
	if s.Legacy != nil {
		s.Legacy.Schedule(report)
	}
	return result, nil
}

func (s *ReportService) StartReview(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64) (domain.Report, error) {
	actor := principal.Actor()
	return s.transition(ctx, principal, reportID, expectedVersion, domain.ActionStartReview, domain.AuditEventReportReviewStarted, nil,
		func(r *domain.Report, _ domain.ReportPayload) error {
			return r.StartReview(actor, s.now())
		})
}

func (s *ReportService) Approve(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64) (domain.Report, error) {
	actor := principal.Actor()
	return s.transition(ctx, principal, reportID, expectedVersion, domain.ActionApprove, domain.AuditEventReportApproved, nil,
		func(r *domain.Report, _ domain.ReportPayload) error {
			return r.Approve(actor, s.now())
		})
}

func (s *ReportService) Return(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64, reason string) (domain.Report, error) {
	actor := principal.Actor()
	extra := map[string]any{"reason_length": len(strings.TrimSpace(reason))}
	return s.transition(ctx, principal, reportID, expectedVersion, domain.ActionReturn, domain.AuditEventReportReturned, extra,
		func(r *domain.Report, _ domain.ReportPayload) error {
			return r.Return(reason, actor, s.now())
		})
}

func (s *ReportService) Reopen(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64) (domain.Report, error) {
	actor := principal.Actor()
	return s.transition(ctx, principal, reportID, expectedVersion, domain.ActionReopen, domain.AuditEventReportReopened, nil,
		func(r *domain.Report, _ domain.ReportPayload) error {
			return r.Reopen(actor, s.now())
		})
}

func (s *ReportService) Cancel(ctx context.Context, principal domain.Principal, reportID string, expectedVersion int64) (domain.Report, error) {
	actor := principal.Actor()
	return s.transition(ctx, principal, reportID, expectedVersion, domain.ActionCancel, domain.AuditEventReportCancelled, nil,
		func(r *domain.Report, _ domain.ReportPayload) error {
			return r.Cancel(actor, s.now())
		})
}

func (s *ReportService) transition(
	ctx context.Context,
	principal domain.Principal,
	reportID string,
	expectedVersion int64,
	action domain.Action,
	eventType domain.AuditEventType,
	extra map[string]any,
	fn func(*domain.Report, domain.ReportPayload) error,
) (domain.Report, error) {
	report, err := s.load(ctx, principal, reportID, action)
	if err != nil {
		return domain.Report{}, err
	}
	next, err := s.Reports.Transition(ctx, report.ID, expectedVersion, fn)
	if err != nil {
		return domain.Report{}, err
	}
	s.logger().WithFields(logrus.Fields{
		"report_id": next.ID,
		"action":    string(action),
		"status":    string(next.Status),
		"version":   next.Version,
	}).Info("report transitioned")
	s.audit(ctx, eventType, principal.Actor(), next, extra)
	return next, nil
}

func (s *ReportService) load(ctx context.Context, principal domain.Principal, reportID string, action domain.Action) (domain.Report, error) {
	if strings.TrimSpace(reportID) == "" {
		return domain.Report{}, fmt.Errorf("%w: report id is required", domain.ErrInvalidArgument)
	}
	report, err := s.Reports.GetByID(ctx, reportID)
	if err != nil {
		return domain.Report{}, err
	}
	if err := s.authorize(ctx, principal, action, report); err != nil {
		return domain.Report{}, err
	}
	return report, nil
}

func (s *ReportService) authorize(ctx context.Context, principal domain.Principal, action domain.Action, report domain.Report) error {
	return authorize(ctx, s.Authz, principal, action, report)
}

func (s *ReportService) audit(ctx context.Context, eventType domain.AuditEventType, actor domain.Actor, report domain.Report, extra map[string]any) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.EmitReportTransition(ctx, eventType, actor, report, extra); err != nil {
		s.logger().WithError(err).WithFields(logrus.Fields{
			"report_id":  report.ID,
			"event_type": string(eventType),
		}).Error("failed to write audit event")
	}
}

func (s *ReportService) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *ReportService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log
	}
	return logrus.StandardLogger()
}

// checkRenderable refuses text the document fonts would drop, so a
// submitted report always renders what was written.
func checkRenderable(glyphs GlyphChecker, payload domain.ReportPayload) error {
	if glyphs == nil {
		return nil
	}
	fields := map[string]string{}
	for name, text := range payload.TextFields() {
		if bad := glyphs.Unsupported(text); len(bad) > 0 {
			fields[name] = "renderable"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &domain.ValidationError{Fields: fields}
}

func newReportView(report domain.Report, payload domain.ReportPayload) ReportView {
	return ReportView{
		Report:         report,
		Payload:        payload,
		AllowedActions: domain.AllowedActions(report.Status),
	}
}

func authorize(ctx context.Context, authz Authorizer, principal domain.Principal, action domain.Action, report domain.Report) error {
	if strings.TrimSpace(principal.Subject) == "" {
		return fmt.Errorf("%w: principal is required", domain.ErrForbidden)
	}
	if authz == nil {
		return nil
	}
	allowed, err := authz.Allow(ctx, principal, action, report)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", action, err)
	}
	if !allowed {
		return fmt.Errorf("%w: %s not permitted", domain.ErrForbidden, action)
	}
	return nil
}

// IsPermanentFailure reports errors that retrying a background task cannot fix.
func IsPermanentFailure(err error) bool {
	return errors.Is(err, domain.ErrReportCancelled) ||
		errors.Is(err, domain.ErrGenerationFailed) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrForbidden)
}
