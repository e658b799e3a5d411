// Package errors renders the API's JSON error envelope and maps engine
// errors onto HTTP statuses.
package errors

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/appraisal/internal/batch"
	"github.com/stwalsh4118/appraisal/internal/compositekey"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/middleware"
	"github.com/stwalsh4118/appraisal/internal/services"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// Error code constants for standardized error responses
const (
	ErrNotFound           = "NOT_FOUND"
	ErrBadRequest         = "BAD_REQUEST"
	ErrInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrValidation         = "VALIDATION_ERROR"
	ErrDatabaseConnection = "DATABASE_CONNECTION_ERROR"
	ErrConflict           = "CONFLICT"
	ErrDecisionsPending   = "DECISIONS_PENDING"
	ErrParse              = "PARSE_ERROR"
	ErrLookup             = "LOOKUP_ERROR"
	ErrOperationTimeout   = "OPERATION_TIMEOUT"
)

// ErrorResponse is the top-level error response structure.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// respond logs at warn and writes the envelope. Server errors go through
// InternalServerError instead.
func respond(c *gin.Context, status int, code, logMsg, message string, details map[string]interface{}) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		fields := map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
		}
		if details != nil {
			fields["details"] = details
		}
		log.Warn(logMsg, fields)
	}

	c.JSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: requestID,
		},
	})
}

// NotFound returns a 404 Not Found error response.
func NotFound(c *gin.Context, message string) {
	respond(c, http.StatusNotFound, ErrNotFound, "Resource not found", message, nil)
}

// BadRequest returns a 400 Bad Request error response with optional details.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusBadRequest, ErrBadRequest, "Bad request", message, details)
}

// Conflict returns a 409 for an operation that collides with run or job state.
func Conflict(c *gin.Context, message string) {
	respond(c, http.StatusConflict, ErrConflict, "Conflict", message, nil)
}

// RunInProgress returns a 409 naming the run that holds the job.
func RunInProgress(c *gin.Context, message string, jobID int64, runID string) {
	respond(c, http.StatusConflict, ErrConflict, "Conflict", message, map[string]interface{}{
		"job_id":        jobID,
		"active_run_id": runID,
	})
}

// DecisionsPending returns a 409 listing how many normalization results are
// still undecided.
func DecisionsPending(c *gin.Context, message string, undecided int) {
	respond(c, http.StatusConflict, ErrDecisionsPending, "Decisions pending", message,
		map[string]interface{}{"undecided": undecided})
}

// UnprocessableEntity returns a 422 for an upload that cannot be parsed.
func UnprocessableEntity(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusUnprocessableEntity, ErrParse, "Unprocessable upload", message, details)
}

// LookupFailed returns a 404 for missing reference data such as a county's
// HPI series.
func LookupFailed(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusNotFound, ErrLookup, "Reference data not found", message, details)
}

// GatewayTimeout returns a 504 for a batch operation that ran out of its
// wall-clock budget. Chunks written before the deadline remain applied.
func GatewayTimeout(c *gin.Context, timeout *batch.TimeoutError) {
	respond(c, http.StatusGatewayTimeout, ErrOperationTimeout, "Operation timed out", timeout.Error(),
		map[string]interface{}{
			"operation": timeout.Operation,
			"timeout":   timeout.Timeout.String(),
			"processed": timeout.Processed,
			"remaining": timeout.Remaining,
		})
}

// InternalServerError returns a 500 Internal Server Error response.
// The error is logged with full context and never exposed to the client.
func InternalServerError(c *gin.Context, message string, err error) {
	requestID := middleware.GetRequestID(c)

	if log := middleware.GetLogger(c); log != nil {
		log.Error("Internal server error", err, map[string]interface{}{
			"message":    message,
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
		})
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: ErrorDetail{
			Code:      ErrInternalServer,
			Message:   message,
			RequestID: requestID,
		},
	})
}

// ValidationError returns a 400 Bad Request error response with field-specific validation errors.
func ValidationError(c *gin.Context, validationErrors validator.ValidationErrors) {
	details := make(map[string]interface{})
	for _, err := range validationErrors {
		details[err.Field()] = formatValidationError(err)
	}
	respond(c, http.StatusBadRequest, ErrValidation, "Validation error",
		"Validation failed for one or more fields", details)
}

// BindingError renders a failed ShouldBind call. Validator failures get the
// per-field envelope, anything else is a malformed body.
func BindingError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		ValidationError(c, verrs)
		return
	}
	BadRequest(c, "Invalid request body", map[string]interface{}{"error": err.Error()})
}

// FromError maps an error returned by the reconciliation service onto the
// matching response. Unknown errors become a 500.
func FromError(c *gin.Context, err error) {
	var (
		parseErr   *vendor.ParseError
		keyErr     *compositekey.ValidationError
		lookupErr  *services.LookupError
		timeoutErr *batch.TimeoutError
		busyErr    *services.RunInProgressError
	)

	switch {
	case errors.As(err, &timeoutErr):
		GatewayTimeout(c, timeoutErr)
	case errors.As(err, &lookupErr):
		if errors.Is(err, services.ErrJobNotFound) {
			NotFound(c, err.Error())
			return
		}
		LookupFailed(c, err.Error(), map[string]interface{}{
			"resource": lookupErr.Resource,
			"key":      lookupErr.Key,
		})
	case errors.As(err, &parseErr):
		details := map[string]interface{}{"reason": parseErr.Reason}
		if parseErr.Line > 0 {
			details["line"] = parseErr.Line
		}
		UnprocessableEntity(c, err.Error(), details)
	case errors.As(err, &keyErr):
		UnprocessableEntity(c, err.Error(), map[string]interface{}{"field": keyErr.Field})
	case errors.As(err, &busyErr):
		RunInProgress(c, err.Error(), busyErr.JobID, busyErr.RunID.String())
	case errors.Is(err, services.ErrRunNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, services.ErrRunInProgress),
		errors.Is(err, services.ErrStaleSnapshot),
		errors.Is(err, services.ErrInvalidState):
		Conflict(c, err.Error())
	case errors.Is(err, services.ErrDecisionsPending):
		var pending *services.PendingError
		undecided := 0
		if errors.As(err, &pending) {
			undecided = pending.Undecided
		}
		DecisionsPending(c, err.Error(), undecided)
	case errors.Is(err, services.ErrInvalidImport),
		errors.Is(err, decisions.ErrUnknownKey),
		errors.Is(err, decisions.ErrInvalidDecision),
		errors.Is(err, decisions.ErrNotKeepable):
		BadRequest(c, err.Error(), nil)
	case errors.Is(err, context.Canceled):
		Conflict(c, "operation was cancelled")
	default:
		InternalServerError(c, "An unexpected error occurred", err)
	}
}

// formatValidationError converts a validator.FieldError to a human-readable message.
func formatValidationError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short or small (minimum: " + err.Param() + ")"
	case "max":
		return "Value is too long or large (maximum: " + err.Param() + ")"
	case "len":
		return "Must have length of " + err.Param()
	case "gt":
		return "Must be greater than " + err.Param()
	case "gte":
		return "Must be greater than or equal to " + err.Param()
	case "lt":
		return "Must be less than " + err.Param()
	case "lte":
		return "Must be less than or equal to " + err.Param()
	case "oneof":
		return "Must be one of: " + err.Param()
	case "uuid":
		return "Must be a valid UUID"
	case "dive":
		return "Every element must be valid"
	default:
		return "Validation failed for tag: " + err.Tag()
	}
}
