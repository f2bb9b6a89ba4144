package controllers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"receiptmanager/middleware"
	"receiptmanager/services"
	"receiptmanager/utils"
)

// actorFrom builds the workflow actor from the claims AuthMiddleware set.
// It writes a 401 and reports false when the caller is unknown.
func actorFrom(c *gin.Context) (services.Actor, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return services.Actor{}, false
	}
	return services.Actor{UserID: userID, Role: c.GetString(middleware.ContextRole)}, true
}

// handleServiceError maps service sentinels onto status codes. Anything
// unrecognized is logged and reported as a 500 with message.
func handleServiceError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.NotFoundResponse(c, err.Error())
	case errors.Is(err, services.ErrConflict):
		utils.ConflictResponse(c, err.Error(), nil)
	case errors.Is(err, services.ErrInvalidDestination), errors.Is(err, services.ErrInvalidInput):
		utils.BadRequestResponse(c, err.Error(), nil)
	case errors.Is(err, services.ErrPermissionDenied):
		utils.ForbiddenResponse(c, err.Error())
	case errors.Is(err, services.ErrInvalidTransition), errors.Is(err, services.ErrRequestClosed):
		utils.ConflictResponse(c, err.Error(), nil)
	default:
		utils.LogError(message, err)
		utils.InternalServerErrorResponse(c, message, err.Error())
	}
}

// respondBulk writes a bulk result: 200 when every item succeeded or was
// skipped, 207 when some failed, and an error status when the operation
// was refused before it started.
func respondBulk(c *gin.Context, message string, result *services.BulkResult, err error) {
	if err != nil {
		if pf, ok := services.IsPartialFailure(err); ok && result != nil {
			utils.MultiStatusResponse(c, pf.Error(), result)
			return
		}
		handleServiceError(c, message+" failed", err)
		return
	}
	utils.SuccessResponse(c, message, result)
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return false
	}
	if err := utils.ValidateStruct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return false
	}
	return true
}
