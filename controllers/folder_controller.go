package controllers

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/services"
	"receiptmanager/utils"
)

type FolderController struct {
	treeService *services.TreeService
	fileService *services.FileService
	bulkService *services.BulkService
}

func NewFolderController(tree *services.TreeService, files *services.FileService, bulk *services.BulkService) *FolderController {
	return &FolderController{
		treeService: tree,
		fileService: files,
		bulkService: bulk,
	}
}

type createFolderRequest struct {
	Parent string `json:"parent"`
	Name   string `json:"name" validate:"required"`
}

type renameFolderRequest struct {
	Path    string `json:"path" validate:"required"`
	NewName string `json:"new_name" validate:"required"`
}

type refreshRequest struct {
	Path string `json:"path"`
}

// GetTree expands the folder at ?path= (root by default), loading it on
// first access.
func (fc *FolderController) GetTree(c *gin.Context) {
	view, err := fc.treeService.Expand(c.Request.Context(), c.DefaultQuery("path", utils.RootPath))
	if err != nil {
		handleServiceError(c, "Failed to load folder", err)
		return
	}
	utils.SuccessResponse(c, "Folder retrieved", view)
}

func (fc *FolderController) RefreshTree(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Path == "" {
		req.Path = utils.RootPath
	}

	view, err := fc.treeService.Refresh(c.Request.Context(), req.Path)
	if err != nil {
		handleServiceError(c, "Failed to refresh folder", err)
		return
	}
	utils.SuccessResponse(c, "Folder refreshed", view)
}

func (fc *FolderController) CreateFolder(c *gin.Context) {
	if _, ok := actorFrom(c); !ok {
		return
	}
	var req createFolderRequest
	if !bindJSON(c, &req) {
		return
	}

	folder, err := fc.fileService.CreateFolder(c.Request.Context(), req.Parent, req.Name)
	if err != nil {
		handleServiceError(c, "Failed to create folder", err)
		return
	}
	utils.CreatedResponse(c, "Folder created successfully", gin.H{"path": folder})
}

// RenameFolder moves every object below the folder to its new name.
// Routes restrict it to admins.
func (fc *FolderController) RenameFolder(c *gin.Context) {
	var req renameFolderRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := fc.bulkService.RenameFolder(c.Request.Context(), req.Path, req.NewName)
	respondBulk(c, "Folder renamed successfully", result, err)
}
