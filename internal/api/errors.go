package api

import (
	"errors"
	"net/http"

	"booking-core/internal/service"
	"booking-core/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidRequest           = "invalid_request"
	codeInsufficientAvailability = "insufficient_availability"
	codeInvalidTransition        = "invalid_transition"
	codeNotFound                 = "not_found"
	codeProviderUnreachable      = "provider_unreachable"
	codeAuditWriteFailed         = "audit_write_failed"
	codeUnauthorized             = "unauthorized"
	codeForbidden                = "forbidden"
	codeInternalError            = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: msg, Code: code})
}

// respondError maps service errors onto HTTP statuses. Business rejections
// are not logged as faults.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrInsufficientAvailability):
		writeError(c, http.StatusConflict, codeInsufficientAvailability, err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(c, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrHoldNotFound),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrBookingNotFound),
		errors.Is(err, service.ErrRoomTypeNotFound):
		writeError(c, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, service.ErrProviderUnreachable):
		writeError(c, http.StatusServiceUnavailable, codeProviderUnreachable, err.Error())
	case errors.Is(err, service.ErrAuditWrite):
		util.GetLogger().Error("Request failed on audit write", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeAuditWriteFailed, "the change could not be recorded and was not applied")
	default:
		util.GetLogger().Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		writeError(c, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}
