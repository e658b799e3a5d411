package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	apierrors "github.com/stwalsh4118/appraisal/internal/errors"
	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/services"
)

const (
	// DefaultReportLimit is the page size of the report history endpoint.
	DefaultReportLimit = 20
	// uploadField is the multipart field holding the vendor file.
	uploadField = "file"
)

// ReconciliationHandler exposes the reconciliation workflow over HTTP.
type ReconciliationHandler struct {
	service   services.ReconciliationService
	maxUpload int64
}

// NewReconciliationHandler creates a new ReconciliationHandler. Uploads
// larger than maxUpload bytes are rejected.
func NewReconciliationHandler(service services.ReconciliationService, maxUpload int64) *ReconciliationHandler {
	return &ReconciliationHandler{
		service:   service,
		maxUpload: maxUpload,
	}
}

// Register mounts the job and run routes on the /api/v1 group.
func (h *ReconciliationHandler) Register(v1 *gin.RouterGroup) {
	jobs := v1.Group("/jobs")
	{
		jobs.POST("", h.InitialImport)
		jobs.POST("/:jobID/reconciliations", h.StartRun)
		jobs.GET("/:jobID/reports", h.ListReports)
		jobs.GET("/:jobID/time-normalized-sales", h.ListTimeNormalizedSales)
	}

	runs := v1.Group("/runs")
	{
		runs.GET("/:runID", h.GetRun)
		runs.PUT("/:runID/sales-decisions", h.DecideSales)
		runs.POST("/:runID/apply", h.Apply)
		runs.PUT("/:runID/normalization-decisions", h.DecideNormalization)
		runs.POST("/:runID/normalization-decisions/bulk", h.DecideAllNormalization)
		runs.POST("/:runID/save", h.Save)
		runs.POST("/:runID/cancel", h.Cancel)
		runs.GET("/:runID/events", h.Events)
	}
}

// ImportForm is the multipart form of the initial import endpoint.
type ImportForm struct {
	Name   string `form:"name" binding:"required,max=200"`
	Vendor string `form:"vendor" binding:"required"`
	CCDD   string `form:"ccdd" binding:"required,max=8"`
	County string `form:"county" binding:"required"`
	Year   int    `form:"year" binding:"required,gte=1900,lte=2100"`
}

// SalesDecisionsRequest is the body of PUT /runs/:runID/sales-decisions.
type SalesDecisionsRequest struct {
	Decisions map[string]string `json:"decisions" binding:"required,min=1"`
}

// NormalizationDecisionsRequest is the body of PUT /runs/:runID/normalization-decisions.
type NormalizationDecisionsRequest struct {
	Decisions map[string]string `json:"decisions" binding:"required,min=1"`
}

// BulkDecisionRequest is the body of POST /runs/:runID/normalization-decisions/bulk.
type BulkDecisionRequest struct {
	Decision string `json:"decision" binding:"required,oneof=keep reject"`
}

// ReportsQuery holds the query parameters of the report history endpoint.
type ReportsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ReportsResponse is the report history of one job.
type ReportsResponse struct {
	Reports []models.ComparisonReport `json:"reports"`
	Count   int                       `json:"count"`
}

// TimeNormalizedSalesResponse is the reviewed sales list of one job.
type TimeNormalizedSalesResponse struct {
	Sales []models.TimeNormalizedSale `json:"sales"`
	Count int                         `json:"count"`
}

// StartRun handles POST /api/v1/jobs/:jobID/reconciliations.
// It uploads a vendor file and returns the diff for sales review.
func (h *ReconciliationHandler) StartRun(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	h.limitBody(c)
	content, ok := h.readUpload(c)
	if !ok {
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Info("Starting reconciliation run", map[string]interface{}{"bytes": len(content)})
	}

	view, err := h.service.StartRun(c.Request.Context(), jobID, content)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// InitialImport handles POST /api/v1/jobs.
// It creates a job and loads its first file, all or nothing.
func (h *ReconciliationHandler) InitialImport(c *gin.Context) {
	h.limitBody(c)

	var form ImportForm
	if err := c.ShouldBind(&form); err != nil {
		if tooLarge(err) {
			h.uploadTooLarge(c)
			return
		}
		apierrors.BindingError(c, err)
		return
	}
	content, ok := h.readUpload(c)
	if !ok {
		return
	}

	result, err := h.service.InitialImport(c.Request.Context(), services.ImportRequest{
		Name:    form.Name,
		Vendor:  form.Vendor,
		CCDD:    form.CCDD,
		County:  form.County,
		Year:    form.Year,
		Content: content,
	})
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListReports handles GET /api/v1/jobs/:jobID/reports.
func (h *ReconciliationHandler) ListReports(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	var q ReportsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		apierrors.BindingError(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = DefaultReportLimit
	}

	reports, err := h.service.ListReports(c.Request.Context(), jobID, q.Limit)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, ReportsResponse{Reports: reports, Count: len(reports)})
}

// ListTimeNormalizedSales handles GET /api/v1/jobs/:jobID/time-normalized-sales.
func (h *ReconciliationHandler) ListTimeNormalizedSales(c *gin.Context) {
	jobID, ok := jobIDParam(c)
	if !ok {
		return
	}
	sales, err := h.service.ListTimeNormalizedSales(c.Request.Context(), jobID)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, TimeNormalizedSalesResponse{Sales: sales, Count: len(sales)})
}

// GetRun handles GET /api/v1/runs/:runID.
func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.GetRun(runID))
}

// DecideSales handles PUT /api/v1/runs/:runID/sales-decisions.
func (h *ReconciliationHandler) DecideSales(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var req SalesDecisionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindingError(c, err)
		return
	}

	ds := make(map[string]decisions.SalesDecision, len(req.Decisions))
	for key, raw := range req.Decisions {
		d, err := decisions.ParseSalesDecision(raw)
		if err != nil {
			apierrors.BadRequest(c, err.Error(), map[string]interface{}{"key": key})
			return
		}
		ds[key] = d
	}
	h.respond(c)(h.service.DecideSales(runID, ds))
}

// Apply handles POST /api/v1/runs/:runID/apply.
// The write outlives a dropped client connection; only Cancel stops it.
func (h *ReconciliationHandler) Apply(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.ApplyRecords(context.WithoutCancel(c.Request.Context()), runID))
}

// DecideNormalization handles PUT /api/v1/runs/:runID/normalization-decisions.
func (h *ReconciliationHandler) DecideNormalization(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var req NormalizationDecisionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindingError(c, err)
		return
	}

	ds := make(map[string]decisions.NormalizationDecision, len(req.Decisions))
	for key, raw := range req.Decisions {
		d, err := decisions.ParseNormalizationDecision(raw)
		if err != nil {
			apierrors.BadRequest(c, err.Error(), map[string]interface{}{"key": key})
			return
		}
		ds[key] = d
	}
	h.respond(c)(h.service.DecideNormalization(runID, ds))
}

// DecideAllNormalization handles POST /api/v1/runs/:runID/normalization-decisions/bulk.
func (h *ReconciliationHandler) DecideAllNormalization(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	var req BulkDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BindingError(c, err)
		return
	}
	d, err := decisions.ParseNormalizationDecision(req.Decision)
	if err != nil {
		apierrors.BadRequest(c, err.Error(), nil)
		return
	}
	h.respond(c)(h.service.DecideAllNormalization(runID, d))
}

// Save handles POST /api/v1/runs/:runID/save.
func (h *ReconciliationHandler) Save(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	h.respond(c)(h.service.SaveNormalization(context.WithoutCancel(c.Request.Context()), runID))
}

// Cancel handles POST /api/v1/runs/:runID/cancel.
func (h *ReconciliationHandler) Cancel(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}

	if log := middleware.GetLogger(c); log != nil {
		log.Warn("Cancel requested", map[string]interface{}{"run_id": runID.String()})
	}
	h.respond(c)(h.service.Cancel(runID))
}

// Events handles GET /api/v1/runs/:runID/events.
// It streams run events as server-sent events until the run ends or the
// client disconnects.
func (h *ReconciliationHandler) Events(c *gin.Context) {
	runID, ok := runIDParam(c)
	if !ok {
		return
	}
	events, unsubscribe, err := h.service.Subscribe(runID)
	if err != nil {
		apierrors.FromError(c, err)
		return
	}
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// respond writes a run view or maps the error.
func (h *ReconciliationHandler) respond(c *gin.Context) func(*services.RunView, error) {
	return func(view *services.RunView, err error) {
		if err != nil {
			apierrors.FromError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

func (h *ReconciliationHandler) limitBody(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}
}

// readUpload returns the vendor file of a multipart request as text.
// Callers apply limitBody before the body is first read.
func (h *ReconciliationHandler) readUpload(c *gin.Context) (string, bool) {
	header, err := c.FormFile(uploadField)
	if err != nil {
		if tooLarge(err) {
			h.uploadTooLarge(c)
			return "", false
		}
		apierrors.BadRequest(c, "A vendor file is required in the 'file' field", map[string]interface{}{"error": err.Error()})
		return "", false
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		h.uploadTooLarge(c)
		return "", false
	}

	f, err := header.Open()
	if err != nil {
		apierrors.InternalServerError(c, "Failed to open upload", err)
		return "", false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		apierrors.InternalServerError(c, "Failed to read upload", err)
		return "", false
	}
	return string(data), true
}

func (h *ReconciliationHandler) uploadTooLarge(c *gin.Context) {
	apierrors.BadRequest(c, fmt.Sprintf("Upload exceeds %d bytes", h.maxUpload), map[string]interface{}{"max_bytes": h.maxUpload})
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func jobIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("jobID"), 10, 64)
	if err != nil || id <= 0 {
		apierrors.BadRequest(c, "Job id must be a positive integer", map[string]interface{}{"job_id": c.Param("jobID")})
		return 0, false
	}
	return id, true
}

func runIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("runID"))
	if err != nil {
		apierrors.BadRequest(c, "Run id must be a UUID", map[string]interface{}{"run_id": c.Param("runID")})
		return uuid.Nil, false
	}
	return id, true
}
