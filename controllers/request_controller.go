package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"receiptmanager/models"
	"receiptmanager/services"
	"receiptmanager/utils"
)

type RequestController struct {
	requestService *services.RequestService
}

func NewRequestController(requests *services.RequestService) *RequestController {
	return &RequestController{requestService: requests}
}

type roleUpgradeRequest struct {
	Role string `json:"role" validate:"required,oneof=admin editor"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// ListRequests returns requests newest first, filtered by ?status=.
// Non-admins only see their own.
func (rc *RequestController) ListRequests(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	status := models.RequestStatus(c.Query("status"))
	switch status {
	case "", models.RequestStatusPending, models.RequestStatusApproved, models.RequestStatusRejected, models.RequestStatusError:
	default:
		utils.BadRequestResponse(c, "Unknown request status", string(status))
		return
	}

	requests, err := rc.requestService.ListRequests(c.Request.Context(), status)
	if err != nil {
		handleServiceError(c, "Failed to list requests", err)
		return
	}

	if !actor.Privileged() {
		own := requests[:0]
		for _, req := range requests {
			if req.RequestedBy == actor.UserID {
				own = append(own, req)
			}
		}
		requests = own
	}
	utils.SuccessResponse(c, "Requests retrieved", requests)
}

func (rc *RequestController) RequestRoleUpgrade(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req roleUpgradeRequest
	if !bindJSON(c, &req) {
		return
	}

	pending, err := rc.requestService.RequestRoleUpgrade(c.Request.Context(), actor, req.Role)
	if err != nil {
		handleServiceError(c, "Failed to request role upgrade", err)
		return
	}
	utils.CreatedResponse(c, "Role upgrade requested", pending)
}

// ApproveRequest executes the request. A request whose execution failed
// is returned in the error state with a 502.
func (rc *RequestController) ApproveRequest(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	req, err := rc.requestService.Approve(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		if req != nil && req.Status == models.RequestStatusError {
			utils.ErrorResponse(c, http.StatusBadGateway, err.Error(), req)
			return
		}
		handleServiceError(c, "Failed to approve request", err)
		return
	}
	utils.SuccessResponse(c, "Request approved", req)
}

func (rc *RequestController) RejectRequest(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body rejectRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}

	req, err := rc.requestService.Reject(c.Request.Context(), actor, c.Param("id"), body.Reason)
	if err != nil {
		handleServiceError(c, "Failed to reject request", err)
		return
	}
	utils.SuccessResponse(c, "Request rejected", req)
}
