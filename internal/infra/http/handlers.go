package http

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/storage"
	"grantdesk/internal/usecase"

	"github.com/gin-gonic/gin"
)

type openRequest struct {
	SubjectID string `json:"subject_id"`
	ProjectID string `json:"project_id"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
}

// transitionRequest is the optional body of a transition. A zero
// expected_version skips the optimistic check.
type transitionRequest struct {
	ExpectedVersion int64  `json:"expected_version"`
	Reason          string `json:"reason,omitempty"`
}

type reportResponse struct {
	ID              string   `json:"id"`
	SubjectID       string   `json:"subject_id"`
	ProjectID       string   `json:"project_id"`
	OrganizationID  string   `json:"organization_id"`
	Year            int      `json:"year"`
	Month           int      `json:"month"`
	Status          string   `json:"status"`
	Version         int64    `json:"version"`
	SubmittedAt     string   `json:"submitted_at,omitempty"`
	SubmittedBy     string   `json:"submitted_by,omitempty"`
	LockedAt        string   `json:"locked_at,omitempty"`
	ReviewStartedAt string   `json:"review_started_at,omitempty"`
	ApprovedAt      string   `json:"approved_at,omitempty"`
	ApprovedBy      string   `json:"approved_by,omitempty"`
	ReturnedAt      string   `json:"returned_at,omitempty"`
	ReturnReason    string   `json:"return_reason,omitempty"`
	CancelledAt     string   `json:"cancelled_at,omitempty"`
	PDFSHA256       string   `json:"pdf_sha256,omitempty"`
	AllowedActions  []string `json:"allowed_actions"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

type reportViewResponse struct {
	Report                  reportResponse       `json:"report"`
	Payload                 domain.ReportPayload `json:"payload"`
	AutosaveIntervalSeconds int                  `json:"autosave_interval_seconds"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
	JobID   string `json:"job_id,omitempty"`
}

type jobResponse struct {
	ID           string `json:"id"`
	ReportID     string `json:"report_id"`
	Status       string `json:"status"`
	Attempts     int    `json:"attempts"`
	ErrorMessage string `json:"error_message,omitempty"`
	DocumentID   string `json:"document_id,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

type outcomeResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Location    string `json:"location,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	Message     string `json:"message,omitempty"`
}

type documentResponse struct {
	ID           string                  `json:"id"`
	ReportID     string                  `json:"report_id"`
	JobID        string                  `json:"job_id"`
	Version      int                     `json:"version"`
	StoragePath  string                  `json:"storage_path"`
	ContentHash  string                  `json:"content_hash"`
	Encrypted    bool                    `json:"encrypted"`
	Metadata     domain.DocumentMetadata `json:"metadata"`
	Current      bool                    `json:"current"`
	SupersededAt string                  `json:"superseded_at,omitempty"`
	CreatedAt    string                  `json:"created_at"`
}

type documentLinkResponse struct {
	DocumentID  string `json:"document_id"`
	Version     int    `json:"version"`
	URL         string `json:"url"`
	ExpiresAt   string `json:"expires_at"`
	ContentHash string `json:"content_hash"`
}

func (s *Server) handleOpen(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	view, err := s.reports.Open(c.Request.Context(), getPrincipal(c), domain.ReportKey{
		SubjectID: strings.TrimSpace(req.SubjectID),
		ProjectID: strings.TrimSpace(req.ProjectID),
		Period:    domain.Period{Year: req.Year, Month: req.Month},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.buildReportView(view))
}

func (s *Server) handleGetReport(c *gin.Context) {
	view, err := s.reports.Get(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.buildReportView(view))
}

func (s *Server) handleSave(c *gin.Context) {
	var payload domain.ReportPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	savedAt, err := s.reports.Save(c.Request.Context(), getPrincipal(c), c.Param("id"), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved_at": formatTime(savedAt)})
}

func (s *Server) handleSubmit(c *gin.Context) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}
	result, err := s.reports.Submit(c.Request.Context(), getPrincipal(c), c.Param("id"), req.ExpectedVersion)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{
		Status:  string(result.Report.Status),
		Version: result.Report.Version,
		JobID:   result.JobID,
	})
}

type transitionFunc func(c *gin.Context, principal domain.Principal, reportID string, req transitionRequest) (domain.Report, error)

func (s *Server) handleTransition(c *gin.Context, fn transitionFunc) {
	req, ok := bindTransition(c)
	if !ok {
		return
	}
	report, err := fn(c, getPrincipal(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusResponse{Status: string(report.Status), Version: report.Version})
}

func (s *Server) handleStartReview(c *gin.Context) {
	s.handleTransition(c, func(c *gin.Context, p domain.Principal, id string, req transitionRequest) (domain.Report, error) {
		return s.reports.StartReview(c.Request.Context(), p, id, req.ExpectedVersion)
	})
}

func (s *Server) handleApprove(c *gin.Context) {
	s.handleTransition(c, func(c *gin.Context, p domain.Principal, id string, req transitionRequest) (domain.Report, error) {
		return s.reports.Approve(c.Request.Context(), p, id, req.ExpectedVersion)
	})
}

func (s *Server) handleReturn(c *gin.Context) {
	s.handleTransition(c, func(c *gin.Context, p domain.Principal, id string, req transitionRequest) (domain.Report, error) {
		return s.reports.Return(c.Request.Context(), p, id, req.ExpectedVersion, req.Reason)
	})
}

func (s *Server) handleReopen(c *gin.Context) {
	s.handleTransition(c, func(c *gin.Context, p domain.Principal, id string, req transitionRequest) (domain.Report, error) {
		return s.reports.Reopen(c.Request.Context(), p, id, req.ExpectedVersion)
	})
}

func (s *Server) handleCancel(c *gin.Context) {
	s.handleTransition(c, func(c *gin.Context, p domain.Principal, id string, req transitionRequest) (domain.Report, error) {
		return s.reports.Cancel(c.Request.Context(), p, id, req.ExpectedVersion)
	})
}

func (s *Server) handleRegenerate(c *gin.Context) {
	job, err := s.generation.Regenerate(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

func (s *Server) handlePollJob(c *gin.Context) {
	outcome, err := s.generation.Poll(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcomeResponse{
		JobID:       outcome.JobID,
		Status:      string(outcome.Status),
		Location:    outcome.Location,
		ContentHash: outcome.ContentHash,
		Message:     outcome.Message,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.generation.ListJobs(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, buildJobResponse(job))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleDocumentLink(c *gin.Context) {
	link, err := s.generation.Download(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, documentLinkResponse{
		DocumentID:  link.DocumentID,
		Version:     link.Version,
		URL:         link.URL,
		ExpiresAt:   formatTime(link.ExpiresAt),
		ContentHash: link.ContentHash,
	})
}

func (s *Server) handleDocumentHistory(c *gin.Context) {
	docs, err := s.generation.History(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		items = append(items, buildDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) handleVerifyDocument(c *gin.Context) {
	doc, err := s.integrity.Verify(c.Request.Context(), getPrincipal(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":        true,
		"document_id":  doc.ID,
		"content_hash": doc.ContentHash,
	})
}

// handleVerifyAuditChain walks an organization's audit chain. A broken chain
// is a valid answer, not a server error.
func (s *Server) handleVerifyAuditChain(c *gin.Context) {
	if !getPrincipal(c).HasRole(domain.RoleAdmin) {
		writeError(c, domain.ErrForbidden)
		return
	}
	if s.auditRepo == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "audit log not configured")
		return
	}
	orgID := c.Param("organization_id")
	events, err := s.auditRepo.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"valid": true, "events": len(events)}
	if err := usecase.VerifyOrganizationAuditChain(c.Request.Context(), s.auditRepo, cryptoinfra.AuditHasher{}, orgID); err != nil {
		s.log.WithError(err).WithField("organization_id", orgID).Error("audit chain verification failed")
		resp["valid"] = false
		resp["reason"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// handleArtifact serves the stored bytes behind a signed local link. Sealed
// artifacts are served as stored.
func (s *Server) handleArtifact(c *gin.Context) {
	objectPath, err := s.artifacts.ResolveToken(c.Param("token"))
	if err != nil {
		writeErrorCode(c, http.StatusForbidden, "FORBIDDEN", "invalid or expired link")
		return
	}
	data, err := s.artifacts.Get(c.Request.Context(), objectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "artifact not found")
			return
		}
		writeError(c, err)
		return
	}
	contentType := "application/pdf"
	if strings.HasSuffix(objectPath, ".sealed") {
		contentType = "application/octet-stream"
	}
	name := objectPath[strings.LastIndex(objectPath, "/")+1:]
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, contentType, data)
}

// bindTransition accepts an empty body as a zero request.
func bindTransition(c *gin.Context) (transitionRequest, bool) {
	var req transitionRequest
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return req, false
	}
	return req, true
}

func (s *Server) buildReportView(view usecase.ReportView) reportViewResponse {
	payload := view.Payload
	if payload.Deliverables == nil {
		payload.Deliverables = []string{}
	}
	return reportViewResponse{
		Report:                  buildReportResponse(view.Report),
		Payload:                 payload,
		AutosaveIntervalSeconds: s.autosaveSeconds(),
	}
}

func buildReportResponse(report domain.Report) reportResponse {
	return reportResponse{
		ID:              report.ID,
		SubjectID:       report.SubjectID,
		ProjectID:       report.ProjectID,
		OrganizationID:  report.OrganizationID,
		Year:            report.Period.Year,
		Month:           report.Period.Month,
		Status:          string(report.Status),
		Version:         report.Version,
		SubmittedAt:     formatTimePtr(report.SubmittedAt),
		SubmittedBy:     report.SubmittedBy,
		LockedAt:        formatTimePtr(report.LockedAt),
		ReviewStartedAt: formatTimePtr(report.ReviewStartedAt),
		ApprovedAt:      formatTimePtr(report.ApprovedAt),
		ApprovedBy:      report.ApprovedBy,
		ReturnedAt:      formatTimePtr(report.ReturnedAt),
		ReturnReason:    report.ReturnReason,
		CancelledAt:     formatTimePtr(report.CancelledAt),
		PDFSHA256:       report.PDFSHA256,
		AllowedActions:  actionNames(domain.AllowedActions(report.Status)),
		CreatedAt:       formatTime(report.CreatedAt),
		UpdatedAt:       formatTime(report.UpdatedAt),
	}
}

func buildJobResponse(job domain.GenerationJob) jobResponse {
	return jobResponse{
		ID:           job.ID,
		ReportID:     job.ReportID,
		Status:       string(job.Status),
		Attempts:     job.Attempts,
		ErrorMessage: job.ErrorMessage,
		DocumentID:   job.DocumentID,
		StartedAt:    formatTime(job.StartedAt),
		FinishedAt:   formatTimePtr(job.FinishedAt),
	}
}

func buildDocumentResponse(doc domain.GeneratedDocument) documentResponse {
	return documentResponse{
		ID:           doc.ID,
		ReportID:     doc.ReportID,
		JobID:        doc.JobID,
		Version:      doc.Version,
		StoragePath:  doc.StoragePath,
		ContentHash:  doc.ContentHash,
		Encrypted:    doc.Encrypted,
		Metadata:     doc.Metadata,
		Current:      doc.Current(),
		SupersededAt: formatTimePtr(doc.SupersededAt),
		CreatedAt:    formatTime(doc.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
