package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/scriptdeck/scriptdeck/internal/common/errors"
	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error        string `json:"error"`
	Code         string `json:"code"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
}

// respondError writes err with the status and code it carries. Server-side
// failures are logged; caller errors are not.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperrors.HTTPStatusOf(err)
	body := errorResponse{
		Error:        errorMessage(err),
		Code:         apperrors.CodeOf(err),
		RequiresAuth: apperrors.IsAuthenticationRequired(err),
	}
	if status >= http.StatusInternalServerError {
		log.WithContext(c.Request.Context()).WithError(err).Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path))
	}
	c.JSON(status, body)
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: message, Code: apperrors.ErrCodeValidationError})
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Err != nil && appErr.Code == apperrors.ErrCodeTransportFailure {
			return appErr.Message + ": " + appErr.Err.Error()
		}
		return appErr.Message
	}
	return strings.TrimSpace(err.Error())
}
