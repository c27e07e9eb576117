package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grantdesk/internal/domain"

	"github.com/sirupsen/logrus"
)

const (
	taskKindGenerate = "generate_document"

	contentTypePDF    = "application/pdf"
	contentTypeSealed = "application/octet-stream"
)

// GenerationService runs the document pipeline in the background:
// build, hash, seal, store, then record the document in one transaction.
type GenerationService struct {
	Reports   ReportRepository
	Jobs      JobRepository
	Documents DocumentRepository
	Directory DirectoryRepository
	Builder   DocumentBuilder
	Inspector DocumentInspector
	Integrity IntegrityLayer
	Store     ArtifactStore
	Queue     TaskQueue
	Authz     Authorizer
	Audit     *AuditEmitter
	Log       logrus.FieldLogger
	Clock     Clock

	SignedURLTTL time.Duration
	PollInterval time.Duration

	inflight sync.Map
}

type DocumentLink struct {
	DocumentID  string
	Version     int
	URL         string
	ExpiresAt   time.Time
	ContentHash string
}

// Start creates a generation job for the report and queues it. While a job
// is already processing for the report, that job is returned instead.
func (s *GenerationService) Start(ctx context.Context, report domain.Report, requestedBy domain.Actor) (domain.GenerationJob, error) {
	if !report.Status.Generatable() {
		return domain.GenerationJob{}, &domain.TransitionError{
			Action:  domain.ActionRegenerate,
			From:    report.Status,
			Allowed: domain.AllowedActions(report.Status),
			Reason:  "documents are generated only for submitted reports",
		}
	}
	job, created, err := s.Jobs.CreateOrGetProcessing(ctx, domain.GenerationJob{
		ReportID:    report.ID,
		RequestedBy: requestedBy.ID,
		StartedAt:   s.now(),
	})
	if err != nil {
		return domain.GenerationJob{}, err
	}
	log := s.logger().WithFields(logrus.Fields{"report_id": report.ID, "job_id": job.ID})
	if !created {
		log.Debug("generation already processing")
		return job, nil
	}
	if err := s.enqueue(job); err != nil {
		// The row stays processing; the recovery sweep picks it up.
		log.WithError(err).Warn("failed to queue generation job")
	} else {
		log.Info("generation job queued")
	}
	return job, nil
}

// Regenerate starts a new generation for a report whose last job failed.
func (s *GenerationService) Regenerate(ctx context.Context, principal domain.Principal, reportID string) (domain.GenerationJob, error) {
	report, err := s.Reports.GetByID(ctx, reportID)
	if err != nil {
		return domain.GenerationJob{}, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionRegenerate, report); err != nil {
		return domain.GenerationJob{}, err
	}
	return s.Start(ctx, report, principal.Actor())
}

func (s *GenerationService) enqueue(job domain.GenerationJob) error {
	if _, loaded := s.inflight.LoadOrStore(job.ID, struct{}{}); loaded {
		return nil
	}
	err := s.Queue.Enqueue(BackgroundTask{
		Kind:    taskKindGenerate,
		ID:      job.ID,
		LockKey: "report:" + job.ReportID,
		Run: func(ctx context.Context, attempt int) error {
			err := s.Execute(ctx, job.ID, attempt)
			if err == nil {
				s.inflight.Delete(job.ID)
			}
			return err
		},
		GiveUp: func(ctx context.Context, err error) {
			defer s.inflight.Delete(job.ID)
			s.fail(ctx, job.ID, err)
		},
	})
	if err != nil {
		s.inflight.Delete(job.ID)
	}
	return err
}

// Execute runs one attempt of the pipeline for a job. It returns nil when
// the job is already finished.
func (s *GenerationService) Execute(ctx context.Context, jobID string, attempt int) error {
	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return nil
	}
	if err := s.Jobs.RecordAttempt(ctx, job.ID, attempt); err != nil {
		return err
	}
	job.Attempts = attempt
	log := s.logger().WithFields(logrus.Fields{
		"report_id": job.ReportID,
		"job_id":    job.ID,
		"attempt":   attempt,
	})

	report, err := s.Reports.GetByID(ctx, job.ReportID)
	if err != nil {
		return err
	}
	if report.Status == domain.StatusCancelled {
		return domain.ErrReportCancelled
	}
	if !report.Status.Generatable() || report.SubmittedAt == nil {
		return fmt.Errorf("%w: report status %s", domain.ErrGenerationFailed, report.Status)
	}
	payload, err := s.Reports.GetPayload(ctx, report.ID)
	if err != nil {
		return err
	}
	dc, err := s.documentContext(ctx, report)
	if err != nil {
		return err
	}

	pdfBytes, err := s.Builder.Build(payload, dc)
	if err != nil {
		return fmt.Errorf("%w: build: %v", domain.ErrGenerationFailed, err)
	}
	pages, err := s.Inspector.PageCount(pdfBytes)
	if err != nil {
		return fmt.Errorf("%w: inspect: %v", domain.ErrGenerationFailed, err)
	}
	contentHash := s.Integrity.Hash(pdfBytes)

	stored, sealed, err := s.Integrity.Seal(pdfBytes)
	if err != nil {
		return fmt.Errorf("seal artifact: %w", err)
	}
	if !sealed {
		log.Warn("storing document without encryption")
	}

	version, err := s.Documents.NextVersion(ctx, report.ID)
	if err != nil {
		return err
	}
	objectPath := domain.ArtifactPath(report, version, job, sealed)
	contentType := contentTypePDF
	if sealed {
		contentType = contentTypeSealed
	}
	if err := s.Store.Put(ctx, objectPath, stored, contentType); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	// Put never replaces an object, so an earlier attempt that stored the
	// artifact but failed to record it leaves its bytes at objectPath. The
	// record must describe what is actually kept.
	kept, err := s.Store.Get(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("read back artifact: %w", err)
	}
	if !bytes.Equal(kept, stored) {
		plaintext, err := s.Integrity.Open(kept, sealed)
		if err != nil {
			return fmt.Errorf("%w: open stored artifact: %v", domain.ErrGenerationFailed, err)
		}
		if keptHash := s.Integrity.Hash(plaintext); keptHash != contentHash {
			pages, err = s.Inspector.PageCount(plaintext)
			if err != nil {
				return fmt.Errorf("%w: inspect stored artifact: %v", domain.ErrGenerationFailed, err)
			}
			log.WithFields(logrus.Fields{
				"storage_path": objectPath,
				"kept_hash":    keptHash,
				"built_hash":   contentHash,
			}).Warn("keeping artifact stored by an earlier attempt")
			contentHash = keptHash
		}
		pdfBytes = plaintext
		stored = kept
	}

	doc, err := s.Documents.Complete(ctx, domain.GeneratedDocument{
		ReportID:    report.ID,
		JobID:       job.ID,
		Version:     version,
		StoragePath: objectPath,
		ContentHash: contentHash,
		Encrypted:   sealed,
		GeneratedBy: job.RequestedBy,
		Metadata: domain.DocumentMetadata{
			PageCount:     pages,
			PeriodLabel:   report.Period.Label(),
			ByteSize:      len(pdfBytes),
			StoredSize:    len(stored),
			HashAlgorithm: s.Integrity.Algorithm(),
		},
	}, s.now())
	if errors.Is(err, domain.ErrConflict) {
		current, getErr := s.Jobs.GetByID(ctx, job.ID)
		if getErr == nil && current.Terminal() {
			log.Info("generation job finished elsewhere")
			return nil
		}
		return err
	}
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"document_id":  doc.ID,
		"version":      doc.Version,
		"content_hash": doc.ContentHash,
		"encrypted":    doc.Encrypted,
	}).Info("document generated")
	if s.Audit != nil {
		if err := s.Audit.EmitDocumentGenerated(ctx, report, doc); err != nil {
			log.WithError(err).Error("failed to write audit event")
		}
	}
	return nil
}

func (s *GenerationService) fail(ctx context.Context, jobID string, cause error) {
	message := failureMessage(cause)
	log := s.logger().WithField("job_id", jobID).WithError(cause)
	ok, err := s.Jobs.MarkFailed(ctx, jobID, message, s.now())
	if err != nil {
		log.WithField("mark_error", err.Error()).Error("failed to record generation failure")
		return
	}
	if !ok {
		return
	}
	log.Error("document generation failed")

	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil || s.Audit == nil {
		return
	}
	report, err := s.Reports.GetByID(ctx, job.ReportID)
	if err != nil {
		return
	}
	code := "GENERATION_FAILED"
	if errors.Is(cause, domain.ErrReportCancelled) {
		code = "REPORT_CANCELLED"
	}
	if err := s.Audit.EmitGenerationFailed(ctx, report, job, code); err != nil {
		log.WithField("audit_error", err.Error()).Error("failed to write audit event")
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrReportCancelled):
		return domain.ErrReportCancelled.Error()
	case errors.Is(err, domain.ErrGenerationFailed):
		return err.Error() + "; request a regeneration to try again"
	default:
		return domain.ErrGenerationFailed.Error() + "; request a regeneration to try again"
	}
}

func (s *GenerationService) documentContext(ctx context.Context, report domain.Report) (domain.DocumentContext, error) {
	dc := domain.DocumentContext{
		Subject:      domain.Subject{ID: report.SubjectID, FullName: report.SubjectID},
		Project:      domain.Project{ID: report.ProjectID, Code: report.ProjectID, OrganizationID: report.OrganizationID},
		Organization: domain.Organization{ID: report.OrganizationID, Name: report.OrganizationID},
		Period:       report.Period,
		SubmittedAt:  report.SubmittedAt.UTC(),
	}
	if s.Directory == nil {
		return dc, nil
	}
	if subject, err := s.Directory.GetSubject(ctx, report.SubjectID); err == nil {
		dc.Subject = subject
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.DocumentContext{}, err
	}
	if project, err := s.Directory.GetProject(ctx, report.ProjectID); err == nil {
		dc.Project = project
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.DocumentContext{}, err
	}
	if org, err := s.Directory.GetOrganization(ctx, report.OrganizationID); err == nil {
		dc.Organization = org
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.DocumentContext{}, err
	}
	return dc, nil
}

// Poll reports the state of a job as seen by the given principal.
func (s *GenerationService) Poll(ctx context.Context, principal domain.Principal, jobID string) (domain.JobOutcome, error) {
	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return domain.JobOutcome{}, err
	}
	report, err := s.Reports.GetByID(ctx, job.ReportID)
	if err != nil {
		return domain.JobOutcome{}, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionRead, report); err != nil {
		return domain.JobOutcome{}, err
	}
	return s.outcome(ctx, job)
}

// Await blocks until the job finishes or ctx is done.
func (s *GenerationService) Await(ctx context.Context, jobID string) (domain.JobOutcome, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := s.Jobs.GetByID(ctx, jobID)
		if err != nil {
			return domain.JobOutcome{}, err
		}
		if job.Terminal() {
			return s.outcome(ctx, job)
		}
		select {
		case <-ctx.Done():
			return domain.JobOutcome{JobID: job.ID, ReportID: job.ReportID, Status: job.Status}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *GenerationService) outcome(ctx context.Context, job domain.GenerationJob) (domain.JobOutcome, error) {
	out := domain.JobOutcome{JobID: job.ID, ReportID: job.ReportID, Status: job.Status}
	switch job.Status {
	case domain.JobSuccess:
		doc, err := s.Documents.GetByID(ctx, job.DocumentID)
		if err != nil {
			return domain.JobOutcome{}, err
		}
		out.Location = doc.StoragePath
		out.ContentHash = doc.ContentHash
	case domain.JobError:
		out.Message = job.ErrorMessage
	}
	return out, nil
}

// Recover queues every job still marked processing. Jobs started less than
// olderThan ago are skipped; zero recovers all of them.
func (s *GenerationService) Recover(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := s.Jobs.ListProcessing(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-olderThan)
	queued := 0
	for _, job := range jobs {
		if olderThan > 0 && job.StartedAt.After(cutoff) {
			continue
		}
		if _, busy := s.inflight.Load(job.ID); busy {
			continue
		}
		if err := s.enqueue(job); err != nil {
			return queued, fmt.Errorf("requeue job %s: %w", job.ID, err)
		}
		queued++
	}
	if queued > 0 {
		s.logger().WithField("jobs", queued).Info("recovered generation jobs")
	}
	return queued, nil
}

// RunRecovery sweeps for stranded jobs every interval until ctx is done.
func (s *GenerationService) RunRecovery(ctx context.Context, interval, olderThan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Recover(ctx, olderThan); err != nil && ctx.Err() == nil {
				s.logger().WithError(err).Warn("generation recovery sweep failed")
			}
		}
	}
}

// Download returns a time-limited link to the report's current document.
func (s *GenerationService) Download(ctx context.Context, principal domain.Principal, reportID string) (DocumentLink, error) {
	report, err := s.Reports.GetByID(ctx, reportID)
	if err != nil {
		return DocumentLink{}, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionDownload, report); err != nil {
		return DocumentLink{}, err
	}
	doc, err := s.Documents.Current(ctx, report.ID)
	if err != nil {
		return DocumentLink{}, err
	}
	ttl := s.SignedURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	url, expiresAt, err := s.Store.SignedURL(ctx, doc.StoragePath, ttl)
	if err != nil {
		return DocumentLink{}, fmt.Errorf("sign artifact url: %w", err)
	}
	return DocumentLink{
		DocumentID:  doc.ID,
		Version:     doc.Version,
		URL:         url,
		ExpiresAt:   expiresAt,
		ContentHash: doc.ContentHash,
	}, nil
}

func (s *GenerationService) History(ctx context.Context, principal domain.Principal, reportID string) ([]domain.GeneratedDocument, error) {
	report, err := s.Reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionRead, report); err != nil {
		return nil, err
	}
	return s.Documents.ListByReport(ctx, report.ID)
}

// ListJobs returns every generation job of a report, oldest first.
func (s *GenerationService) ListJobs(ctx context.Context, principal domain.Principal, reportID string) ([]domain.GenerationJob, error) {
	report, err := s.Reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if err := authorize(ctx, s.Authz, principal, domain.ActionRead, report); err != nil {
		return nil, err
	}
	return s.Jobs.ListByReport(ctx, report.ID)
}

func (s *GenerationService) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *GenerationService) logger() logrus.FieldLogger {
	if s.Log != nil {
		return s.Log.WithField("component", "generation")
	}
	return logrus.StandardLogger().WithField("component", "generation")
}
