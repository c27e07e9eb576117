package db

import (
	"time"

	"gorm.io/datatypes"
)

type OrganizationModel struct {
	ID          string    `gorm:"type:text;primaryKey"`
	Name        string    `gorm:"not null"`
	HeaderLine  string    `gorm:"not null;default:''"`
	AccentColor string    `gorm:"not null;default:''"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (OrganizationModel) TableName() string {
	return "organizations"
}

type ProjectModel struct {
	ID             string    `gorm:"type:text;primaryKey"`
	Code           string    `gorm:"not null"`
	Title          string    `gorm:"not null"`
	OrganizationID string    `gorm:"type:text;index;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ProjectModel) TableName() string {
	return "projects"
}

type SubjectModel struct {
	ID        string    `gorm:"type:text;primaryKey"`
	FullName  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (SubjectModel) TableName() string {
	return "subjects"
}

type ReportModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	SubjectID       string `gorm:"type:text;not null;uniqueIndex:idx_reports_key,priority:1"`
	ProjectID       string `gorm:"type:text;not null;uniqueIndex:idx_reports_key,priority:2"`
	Year            int    `gorm:"not null;uniqueIndex:idx_reports_key,priority:3"`
	Month           int    `gorm:"not null;uniqueIndex:idx_reports_key,priority:4"`
	OrganizationID  string `gorm:"type:text;index;not null"`
	Status          string `gorm:"type:text;index;not null"`
	Version         int64  `gorm:"not null"`
	SubmittedAt     *time.Time
	SubmittedBy     *string
	LockedAt        *time.Time
	ReviewStartedAt *time.Time
	ReviewStartedBy *string
	ApprovedAt      *time.Time
	ApprovedBy      *string
	ReturnedAt      *time.Time
	ReturnedBy      *string
	CancelledAt     *time.Time
	CancelledBy     *string
	ReturnReason    *string
	PDFSHA256       *string   `gorm:"column:pdf_sha256"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (ReportModel) TableName() string {
	return "reports"
}

type ReportPayloadModel struct {
	ReportID     string         `gorm:"type:uuid;primaryKey"`
	Activities   string         `gorm:"type:text;not null;default:''"`
	Results      string         `gorm:"type:text;not null;default:''"`
	Difficulties string         `gorm:"type:text;not null;default:''"`
	NextSteps    string         `gorm:"type:text;not null;default:''"`
	Remarks      string         `gorm:"type:text;not null;default:''"`
	Hours        *int           `gorm:"check:chk_report_payloads_hours,hours >= 0 AND hours <= 744"`
	Deliverables datatypes.JSON `gorm:"type:jsonb;not null"`
	LastSavedAt  *time.Time
	UpdatedAt    time.Time `gorm:"not null"`
}

func (ReportPayloadModel) TableName() string {
	return "report_payloads"
}

// GenerationJobModel carries a partial unique index so a report has at most
// one processing job at a time.
type GenerationJobModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	ReportID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_generation_jobs_one_processing,where:status = 'processing'"`
	Status       string `gorm:"type:text;not null;index"`
	ErrorMessage *string
	DocumentID   *string   `gorm:"type:uuid"`
	RequestedBy  string    `gorm:"type:text;not null"`
	Attempts     int       `gorm:"not null;default:0"`
	StartedAt    time.Time `gorm:"not null"`
	FinishedAt   *time.Time
}

func (GenerationJobModel) TableName() string {
	return "generation_jobs"
}

type DocumentMetadataJSON struct {
	PageCount     int    `json:"page_count"`
	PeriodLabel   string `json:"period_label"`
	ByteSize      int    `json:"byte_size"`
	StoredSize    int    `json:"stored_size"`
	HashAlgorithm string `json:"hash_algorithm,omitempty"`
}

type GeneratedDocumentModel struct {
	ID           string                                   `gorm:"type:uuid;primaryKey"`
	ReportID     string                                   `gorm:"type:uuid;not null;uniqueIndex:idx_documents_report_version,priority:1"`
	Version      int                                      `gorm:"not null;uniqueIndex:idx_documents_report_version,priority:2"`
	JobID        string                                   `gorm:"type:uuid;not null;uniqueIndex"`
	StoragePath  string                                   `gorm:"type:text;not null;uniqueIndex"`
	ContentHash  string                                   `gorm:"type:text;not null;index"`
	Encrypted    bool                                     `gorm:"not null"`
	GeneratedBy  string                                   `gorm:"type:text;not null"`
	Metadata     datatypes.JSONType[DocumentMetadataJSON] `gorm:"type:jsonb;not null"`
	SupersededAt *time.Time
	CreatedAt    time.Time `gorm:"not null"`
}

func (GeneratedDocumentModel) TableName() string {
	return "generated_documents"
}

type AuditEventModel struct {
	ID             string         `gorm:"type:uuid;primaryKey"`
	OrganizationID string         `gorm:"type:text;not null;uniqueIndex:idx_audit_events_chain,priority:1"`
	Seq            int64          `gorm:"not null;uniqueIndex:idx_audit_events_chain,priority:2"`
	EventType      string         `gorm:"column:event_type;not null"`
	PayloadJSON    datatypes.JSON `gorm:"type:jsonb;not null"`
	PayloadHash    string         `gorm:"not null"`
	ActorType      string         `gorm:"not null"`
	ActorIDHash    *string
	TargetType     string `gorm:"not null"`
	TargetID       *string
	Result         string `gorm:"not null"`
	ErrorCode      *string
	PrevEventHash  string    `gorm:"not null"`
	EventHash      string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null"`
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

type AuditSeqModel struct {
	OrganizationID string `gorm:"type:text;primaryKey"`
	Seq            int64  `gorm:"not null"`
}

func (AuditSeqModel) TableName() string {
	return "organization_audit_seq"
}

func allModels() []any {
	return []any{
		&OrganizationModel{},
		&ProjectModel{},
		&SubjectModel{},
		&ReportModel{},
		&ReportPayloadModel{},
		&GenerationJobModel{},
		&GeneratedDocumentModel{},
		&AuditEventModel{},
		&AuditSeqModel{},
	}
}
