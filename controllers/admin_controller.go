package controllers

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/jobs"
	"receiptmanager/utils"
)

type AdminController struct {
	recompressor *jobs.Recompressor
}

func NewAdminController(recompressor *jobs.Recompressor) *AdminController {
	return &AdminController{recompressor: recompressor}
}

type recompressRequest struct {
	Path string `json:"path"`
}

// Recompress re-encodes every JPEG below path. It runs inside the request;
// a second call while one is running gets 409.
func (ac *AdminController) Recompress(c *gin.Context) {
	var req recompressRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Path == "" {
		req.Path = utils.RootPath
	}

	result, err := ac.recompressor.Run(c.Request.Context(), req.Path)
	respondBulk(c, "Recompression finished", result, err)
}
