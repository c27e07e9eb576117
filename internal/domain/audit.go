package domain

import "time"

type AuditActorType string

const (
	// AuditSystemOrganizationID is the reserved chain for events with no organization.
	AuditSystemOrganizationID = "__system__"
	AuditChainVersion         = "audit_chain_v0"

	AuditActorSystem AuditActorType = "system"
	AuditActorUser   AuditActorType = "user"
)

type AuditEventType string

const (
	AuditEventReportOpened        AuditEventType = "report.opened"
	AuditEventReportSubmitted     AuditEventType = "report.submitted"
	AuditEventReportReviewStarted AuditEventType = "report.review_started"
	AuditEventReportApproved      AuditEventType = "report.approved"
	AuditEventReportReturned      AuditEventType = "report.returned"
	AuditEventReportReopened      AuditEventType = "report.reopened"
	AuditEventReportCancelled     AuditEventType = "report.cancelled"
	AuditEventDocumentGenerated   AuditEventType = "document.generated"
	AuditEventDocumentFailed      AuditEventType = "document.generation_failed"
	AuditEventDocumentVerified    AuditEventType = "document.verified"
	AuditEventIntegrityMismatch   AuditEventType = "document.integrity_mismatch"
	AuditEventLegacyLinked        AuditEventType = "legacy.linked"
)

type AuditTargetType string

const (
	AuditTargetReport   AuditTargetType = "report"
	AuditTargetDocument AuditTargetType = "document"
	AuditTargetJob      AuditTargetType = "job"
)

type AuditResult string

const (
	AuditResultSuccess AuditResult = "success"
	AuditResultFailure AuditResult = "failure"
)

type AuditEvent struct {
	ID             string
	OrganizationID string
	Seq            int64
	EventType      AuditEventType
	Payload        any
	PayloadHash    string
	ActorType      AuditActorType
	ActorIDHash    string
	TargetType     AuditTargetType
	TargetID       string
	Result         AuditResult
	ErrorCode      string
	PrevEventHash  string
	EventHash      string
	CreatedAt      time.Time
}
