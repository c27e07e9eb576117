package domain

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobProcessing JobStatus = "processing"
	JobSuccess    JobStatus = "success"
	JobError      JobStatus = "error"
)

// GenerationJob is the durable handle of one document generation run.
type GenerationJob struct {
	ID           string
	ReportID     string
	Status       JobStatus
	ErrorMessage string
	DocumentID   string
	RequestedBy  string
	Attempts     int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

func (j GenerationJob) Terminal() bool {
	return j.Status == JobSuccess || j.Status == JobError
}

// ShortID is the first eight characters of the job id, used in storage paths.
func (j GenerationJob) ShortID() string {
	if len(j.ID) <= 8 {
		return j.ID
	}
	return j.ID[:8]
}

type DocumentMetadata struct {
	PageCount     int    `json:"page_count"`
	PeriodLabel   string `json:"period_label"`
	ByteSize      int    `json:"byte_size"`
	StoredSize    int    `json:"stored_size"`
	HashAlgorithm string `json:"hash_algorithm"`
}

type GeneratedDocument struct {
	ID           string
	ReportID     string
	JobID        string
	Version      int
	StoragePath  string
	ContentHash  string
	Encrypted    bool
	GeneratedBy  string
	Metadata     DocumentMetadata
	SupersededAt *time.Time
	CreatedAt    time.Time
}

func (d GeneratedDocument) Current() bool {
	return d.SupersededAt == nil
}

// JobOutcome is what a poller sees for a job.
type JobOutcome struct {
	JobID       string
	ReportID    string
	Status      JobStatus
	Location    string
	ContentHash string
	Message     string
}

// ArtifactPath lays out where a document version is stored.
func ArtifactPath(report Report, version int, job GenerationJob, sealed bool) string {
	path := fmt.Sprintf("org/%s/project/%s/subject/%s/%s/monthly-report-v%d-%s.pdf",
		report.OrganizationID,
		report.ProjectID,
		report.SubjectID,
		report.Period.Label(),
		version,
		job.ShortID(),
	)
	if sealed {
		path += ".sealed"
	}
	return path
}

// Organization, Project and Subject are read-only descriptors resolved from
// the directory owned by other services.
type Organization struct {
	ID          string
	Name        string
	HeaderLine  string
	AccentColor string
}

type Project struct {
	ID             string
	Code           string
	Title          string
	OrganizationID string
}

type Subject struct {
	ID       string
	FullName string
}

// DocumentContext is everything besides the payload that goes into a rendered report.
type DocumentContext struct {
	Subject      Subject
	Project      Project
	Organization Organization
	Period       Period
	SubmittedAt  time.Time
}
