package usecase

import (
	"context"
	"time"

	"grantdesk/internal/domain"
)

type Clock func() time.Time

type ReportRepository interface {
	CreateIfAbsent(ctx context.Context, report domain.Report) (domain.Report, bool, error)
	GetByID(ctx context.Context, id string) (domain.Report, error)
	GetPayload(ctx context.Context, reportID string) (domain.ReportPayload, error)
	SavePayload(ctx context.Context, reportID string, payload domain.ReportPayload, savedAt time.Time) (domain.Report, error)
	Transition(ctx context.Context, reportID string, expectedVersion int64, fn func(*domain.Report, domain.ReportPayload) error) (domain.Report, error)
}

type JobRepository interface {
	CreateOrGetProcessing(ctx context.Context, job domain.GenerationJob) (domain.GenerationJob, bool, error)
	GetByID(ctx context.Context, id string) (domain.GenerationJob, error)
	ListProcessing(ctx context.Context) ([]domain.GenerationJob, error)
	ListByReport(ctx context.Context, reportID string) ([]domain.GenerationJob, error)
	RecordAttempt(ctx context.Context, id string, attempt int) error
	MarkFailed(ctx context.Context, id string, message string, finishedAt time.Time) (bool, error)
}

type DocumentRepository interface {
	NextVersion(ctx context.Context, reportID string) (int, error)
	Complete(ctx context.Context, doc domain.GeneratedDocument, finishedAt time.Time) (domain.GeneratedDocument, error)
	GetByID(ctx context.Context, id string) (domain.GeneratedDocument, error)
	Current(ctx context.Context, reportID string) (domain.GeneratedDocument, error)
	ListByReport(ctx context.Context, reportID string) ([]domain.GeneratedDocument, error)
}

// DirectoryRepository resolves the descriptors rendered into documents.
type DirectoryRepository interface {
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	GetOrganization(ctx context.Context, organizationID string) (domain.Organization, error)
	GetSubject(ctx context.Context, subjectID string) (domain.Subject, error)
}

type AuditEventRepository interface {
	Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]domain.AuditEvent, error)
}

type LegacyRepository interface {
	LinkResubmissions(ctx context.Context, subjectID string, period domain.Period, reportID string, linkedAt time.Time) ([]string, error)
}

type Authorizer interface {
	Allow(ctx context.Context, principal domain.Principal, action domain.Action, report domain.Report) (bool, error)
}

type DocumentBuilder interface {
	Build(payload domain.ReportPayload, dc domain.DocumentContext) ([]byte, error)
}

// GlyphChecker reports the characters of text that documents cannot render.
type GlyphChecker interface {
	Unsupported(text string) []rune
}

type DocumentInspector interface {
	PageCount(data []byte) (int, error)
}

// IntegrityLayer hashes, seals and verifies artifacts. Seal reports whether
// the output is encrypted; Open reverses it.
type IntegrityLayer interface {
	Algorithm() string
	Hash(data []byte) string
	Seal(data []byte) ([]byte, bool, error)
	Open(stored []byte, sealed bool) ([]byte, error)
	Verify(stored []byte, expectedHash string, sealed bool) (bool, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, objectPath string, data []byte, contentType string) error
	Get(ctx context.Context, objectPath string) ([]byte, error)
	SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, time.Time, error)
	Provider() string
}

// BackgroundTask is work handed to the job runner. Run is retried with
// backoff; GiveUp receives the last error once retries are exhausted or the
// error is permanent.
type BackgroundTask struct {
	Kind    string
	ID      string
	LockKey string
	Run     func(ctx context.Context, attempt int) error
	GiveUp  func(ctx context.Context, err error)
}

type TaskQueue interface {
	Enqueue(task BackgroundTask) error
}
