package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quocanhngo/clipsync/internal/middleware"
	"github.com/quocanhngo/clipsync/internal/model"
)

// errorStatus maps a sentinel to its HTTP status and wire code
type errorStatus struct {
	target error
	status int
	code   string
}

var errorTable = []errorStatus{
	{model.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{model.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{model.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
	{model.ErrForbidden, http.StatusForbidden, "forbidden"},
	{model.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{model.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "payload_too_large"},
	{model.ErrPayloadCorrupted, http.StatusBadRequest, "payload_corrupted"},
	{model.ErrNoSessionKey, http.StatusBadRequest, "no_session_key"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrUsernameTaken, http.StatusConflict, "username_taken"},
	{model.ErrCannotRemoveCurrentDevice, http.StatusBadRequest, "current_device"},
	{model.ErrStoreUnavailable, http.StatusServiceUnavailable, "service_unavailable"},
}

// respondError writes the error body for err. Unknown errors are logged and
// answered with a generic 500 so internal text never reaches the client.
func respondError(c *gin.Context, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			c.JSON(e.status, model.ErrorResponse{Error: e.code, Message: e.target.Error()})
			return
		}
	}
	log.Printf("❌ %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal_error", Message: "Internal server error"})
}

// badRequest answers a body or query that failed binding
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid_request", Message: err.Error()})
}

// caller returns the user and device from the auth middleware
// bodyTooLarge reports whether reading the request hit its MaxBytesReader cap
func bodyTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge)
}

func caller(c *gin.Context) (uuid.UUID, string) {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID), c.GetString(middleware.ContextDeviceID)
}
