package domain

import (
	"fmt"
	"strings"
	"time"
)

type ReportStatus string

const (
	StatusDraft       ReportStatus = "draft"
	StatusSubmitted   ReportStatus = "submitted"
	StatusUnderReview ReportStatus = "under_review"
	StatusApproved    ReportStatus = "approved"
	StatusReturned    ReportStatus = "returned"
	StatusCancelled   ReportStatus = "cancelled"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusApproved, StatusReturned, StatusCancelled:
		return true
	}
	return false
}

// Editable reports accept payload writes.
func (s ReportStatus) Editable() bool {
	return s == StatusDraft || s == StatusReturned
}

func (s ReportStatus) Terminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// Generatable reports may carry a generated document.
func (s ReportStatus) Generatable() bool {
	return s == StatusSubmitted || s == StatusUnderReview || s == StatusApproved
}

type Period struct {
	Year  int
	Month int
}

func (p Period) Validate() error {
	if p.Year < 2000 || p.Year > 9999 {
		return fmt.Errorf("%w: year out of range", ErrInvalidArgument)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month out of range", ErrInvalidArgument)
	}
	return nil
}

// Label renders the period as YYYY-MM.
func (p Period) Label() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// LongLabel renders the period as "February 2026".
func (p Period) LongLabel() string {
	return time.Month(p.Month).String() + " " + fmt.Sprintf("%04d", p.Year)
}

// ReportKey is the natural key of a report.
type ReportKey struct {
	SubjectID string
	ProjectID string
	Period    Period
}

func (k ReportKey) Validate() error {
	if strings.TrimSpace(k.SubjectID) == "" || strings.TrimSpace(k.ProjectID) == "" {
		return fmt.Errorf("%w: subject_id and project_id are required", ErrInvalidArgument)
	}
	return k.Period.Validate()
}

type Report struct {
	ID             string
	SubjectID      string
	ProjectID      string
	OrganizationID string
	Period         Period
	Status         ReportStatus
	Version        int64

	SubmittedAt     *time.Time
	SubmittedBy     string
	LockedAt        *time.Time
	ReviewStartedAt *time.Time
	ReviewStartedBy string
	ApprovedAt      *time.Time
	ApprovedBy      string
	ReturnedAt      *time.Time
	ReturnedBy      string
	CancelledAt     *time.Time
	CancelledBy     string
	ReturnReason    string
	PDFSHA256       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Report) Key() ReportKey {
	return ReportKey{SubjectID: r.SubjectID, ProjectID: r.ProjectID, Period: r.Period}
}

// NewDraft builds the initial state of a report opened for the first time.
func NewDraft(key ReportKey, organizationID string, now time.Time) Report {
	return Report{
		SubjectID:      key.SubjectID,
		ProjectID:      key.ProjectID,
		OrganizationID: organizationID,
		Period:         key.Period,
		Status:         StatusDraft,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TransitionError reports a rejected transition together with the actions
// still available from the current status.
type TransitionError struct {
	Action  Action
	From    ReportStatus
	Allowed []Action
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s a report in status %s", e.Action, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func invalidTransition(action Action, from ReportStatus, reason string) error {
	return &TransitionError{Action: action, From: from, Allowed: AllowedActions(from), Reason: reason}
}

// AllowedActions lists the lifecycle actions accepted in a status.
func AllowedActions(status ReportStatus) []Action {
	switch status {
	case StatusDraft:
		return []Action{ActionSave, ActionSubmit, ActionCancel}
	case StatusReturned:
		return []Action{ActionSave, ActionSubmit, ActionReopen, ActionCancel}
	case StatusSubmitted:
		return []Action{ActionStartReview, ActionCancel}
	case StatusUnderReview:
		return []Action{ActionApprove, ActionReturn, ActionCancel}
	default:
		return []Action{}
	}
}

func (r *Report) Submit(payload ReportPayload, actor Actor, now time.Time) error {
	if !r.Status.Editable() {
		return invalidTransition(ActionSubmit, r.Status, "")
	}
	if missing := payload.MissingRequired(); len(missing) > 0 {
		return invalidTransition(ActionSubmit, r.Status, "missing required fields: "+strings.Join(missing, ", "))
	}
	r.Status = StatusSubmitted
	r.SubmittedAt = timePtr(now)
	r.SubmittedBy = actor.ID
	r.LockedAt = timePtr(now)
	r.ReturnReason = ""
	return nil
}

func (r *Report) StartReview(actor Actor, now time.Time) error {
	if r.Status != StatusSubmitted {
		return invalidTransition(ActionStartReview, r.Status, "")
	}
	r.Status = StatusUnderReview
	r.ReviewStartedAt = timePtr(now)
	r.ReviewStartedBy = actor.ID
	return nil
}

func (r *Report) Approve(actor Actor, now time.Time) error {
	if r.Status != StatusUnderReview {
		return invalidTransition(ActionApprove, r.Status, "")
	}
	r.Status = StatusApproved
	r.ApprovedAt = timePtr(now)
	r.ApprovedBy = actor.ID
	return nil
}

func (r *Report) Return(reason string, actor Actor, now time.Time) error {
	if r.Status != StatusUnderReview {
		return invalidTransition(ActionReturn, r.Status, "")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return invalidTransition(ActionReturn, r.Status, "return reason is required")
	}
	r.Status = StatusReturned
	r.ReturnedAt = timePtr(now)
	r.ReturnedBy = actor.ID
	r.ReturnReason = reason
	r.LockedAt = nil
	return nil
}

// Reopen moves a returned report back to draft without touching its payload.
func (r *Report) Reopen(actor Actor, now time.Time) error {
	if r.Status != StatusReturned {
		return invalidTransition(ActionReopen, r.Status, "")
	}
	r.Status = StatusDraft
	r.ReturnReason = ""
	return nil
}

func (r *Report) Cancel(actor Actor, now time.Time) error {
	if r.Status.Terminal() {
		return invalidTransition(ActionCancel, r.Status, "")
	}
	r.Status = StatusCancelled
	r.CancelledAt = timePtr(now)
	r.CancelledBy = actor.ID
	return nil
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
