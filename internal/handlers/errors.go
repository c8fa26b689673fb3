package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/utils"
)

// respondError maps service errors onto the response envelope.
func respondError(c *gin.Context, err error) {
	var (
		verr   *apperr.ValidationError
		denied *apperr.AccessDeniedError
	)
	switch {
	case errors.As(err, &verr):
		utils.ValidationFailed(c, verr.Fields)
	case errors.As(err, &denied):
		utils.Forbidden(c, denied.Reason)
	case errors.Is(err, apperr.ErrNotFound):
		utils.NotFound(c, err.Error())
	case errors.Is(err, apperr.ErrIllegalTransition), errors.Is(err, apperr.ErrConflict):
		utils.Conflict(c, err.Error())
	case errors.Is(err, apperr.ErrInvalidStatusKind):
		utils.UnprocessableEntity(c, err.Error())
	default:
		_ = c.Error(err)
		utils.InternalServerError(c, "Internal server error")
	}
}
