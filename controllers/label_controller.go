package controllers

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/services"
	"receiptmanager/utils"
)

type LabelController struct {
	labelService *services.LabelService
}

func NewLabelController(labels *services.LabelService) *LabelController {
	return &LabelController{labelService: labels}
}

type setLabelRequest struct {
	Tags  []string `json:"tags"`
	Color string   `json:"color"`
}

type favoriteRequest struct {
	Path string `json:"path" validate:"required"`
}

func (lc *LabelController) GetLabel(c *gin.Context) {
	label, err := lc.labelService.GetLabel(c.Request.Context(), c.DefaultQuery("path", utils.RootPath))
	if err != nil {
		handleServiceError(c, "Failed to get label", err)
		return
	}
	utils.SuccessResponse(c, "Label retrieved", label)
}

func (lc *LabelController) SetLabel(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req setLabelRequest
	if !bindJSON(c, &req) {
		return
	}

	label, err := lc.labelService.SetLabel(c.Request.Context(), c.DefaultQuery("path", utils.RootPath), req.Tags, req.Color, actor.UserID)
	if err != nil {
		handleServiceError(c, "Failed to save label", err)
		return
	}
	utils.SuccessResponse(c, "Label saved", label)
}

func (lc *LabelController) DeleteLabel(c *gin.Context) {
	if err := lc.labelService.DeleteLabel(c.Request.Context(), c.Query("path")); err != nil {
		handleServiceError(c, "Failed to delete label", err)
		return
	}
	utils.SuccessResponse(c, "Label deleted", nil)
}

func (lc *LabelController) ListFavorites(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	favorites, err := lc.labelService.ListFavorites(c.Request.Context(), actor.UserID)
	if err != nil {
		handleServiceError(c, "Failed to list favorites", err)
		return
	}
	utils.SuccessResponse(c, "Favorites retrieved", favorites)
}

func (lc *LabelController) ToggleFavorite(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req favoriteRequest
	if !bindJSON(c, &req) {
		return
	}

	favorite, err := lc.labelService.ToggleFavorite(c.Request.Context(), actor.UserID, req.Path)
	if err != nil {
		handleServiceError(c, "Failed to toggle favorite", err)
		return
	}
	utils.SuccessResponse(c, "Favorite updated", gin.H{"path": utils.NormalizePath(req.Path), "favorite": favorite})
}
