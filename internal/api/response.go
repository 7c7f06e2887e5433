package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-launchpad/internal/domain"
	"agent-launchpad/internal/storage"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Kind    domain.Kind    `json:"kind,omitempty"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, apiResponse{Code: 0, Message: "ok", Data: data})
}

func fail(c *gin.Context, status int, kind domain.Kind, message string) {
	c.AbortWithStatusJSON(status, apiResponse{
		Code:    status,
		Message: message,
		Kind:    kind,
	})
}

func badRequest(c *gin.Context, message string) {
	fail(c, http.StatusBadRequest, domain.KindValidation, message)
}

// serverMessages replaces the detail of 5xx errors, which stays in the
// access log under the request id.
var serverMessages = map[domain.Kind]string{
	domain.KindTransient: "temporarily unavailable, retry later",
	domain.KindExhausted: "temporarily unavailable, retry later",
	domain.KindInvariant: "ledger invariant violation, halted pending reconciliation",
}

// writeError maps err onto an HTTP status through the error taxonomy.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	kind := domain.Classify(err)
	if errors.Is(err, storage.ErrNotFound) {
		kind = domain.KindValidation
	}
	status := StatusFor(err)
	if status < http.StatusInternalServerError {
		fail(c, status, kind, err.Error())
		return
	}
	message, ok := serverMessages[kind]
	if !ok {
		message = "internal error"
	}
	c.AbortWithStatusJSON(status, apiResponse{
		Code:    status,
		Message: message,
		Kind:    kind,
		Meta:    map[string]any{"request_id": c.GetString(requestIDKey)},
	})
}

// StatusFor returns the HTTP status of err.
func StatusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	switch domain.Classify(err) {
	case domain.KindNone:
		return http.StatusOK
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindBusiness:
		if errors.Is(err, domain.ErrIdempotencyConflict) || errors.Is(err, domain.ErrAlreadyGraduated) {
			return http.StatusConflict
		}
		if errors.Is(err, domain.ErrBeneficiaryMismatch) {
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	case domain.KindTransient, domain.KindExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
