package router

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campaignops/flowengine/internal/auth"
	"github.com/campaignops/flowengine/internal/workflow/service"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes returned in Response.Error
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeForbidden    = "FORBIDDEN"
	CodeIntegrity    = "INTEGRITY_ERROR"
	CodeConflict     = "VERSION_CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
)

func respondOK(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{Success: true, Data: data, Message: message})
}

func respondFail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: code, Message: message})
}

// errorResponder turns service errors into status codes. Details of internal errors are only
// exposed when exposeDetails is set.
type errorResponder struct {
	exposeDetails bool
}

func (e errorResponder) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		respondFail(c, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, service.ErrNotFound):
		respondFail(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		respondFail(c, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, service.ErrIntegrity):
		respondFail(c, http.StatusBadRequest, CodeIntegrity, err.Error())
	case errors.Is(err, service.ErrConflict):
		respondFail(c, http.StatusConflict, CodeConflict, err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		resp := Response{Success: false, Error: CodeInternal, Message: "internal server error"}
		if e.exposeDetails {
			resp.Details = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
	}
}

// callerCompany returns the company of the authenticated caller, answering 401 when the
// request carries no session.
func callerCompany(c *gin.Context) (string, bool) {
	authCtx := auth.GetAuthContext(c.Request.Context())
	if authCtx == nil || authCtx.CompanyID == "" {
		respondFail(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return "", false
	}
	return authCtx.CompanyID, true
}
