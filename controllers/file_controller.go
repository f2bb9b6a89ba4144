package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"receiptmanager/models"
	"receiptmanager/services"
	"receiptmanager/utils"
)

type FileController struct {
	fileService    *services.FileService
	bulkService    *services.BulkService
	requestService *services.RequestService
}

func NewFileController(files *services.FileService, bulk *services.BulkService, requests *services.RequestService) *FileController {
	return &FileController{
		fileService:    files,
		bulkService:    bulk,
		requestService: requests,
	}
}

type transferRequest struct {
	Files       []string                 `json:"files"`
	Folders     []string                 `json:"folders"`
	Destination string                   `json:"destination" validate:"required"`
	Policy      services.OverwritePolicy `json:"policy" validate:"omitempty,oneof=skip overwrite"`
}

func (r transferRequest) selection() services.Selection {
	return services.Selection{Files: r.Files, Folders: r.Folders}
}

func (r transferRequest) policy() services.OverwritePolicy {
	if r.Policy == "" {
		return services.OverwriteSkip
	}
	return r.Policy
}

type deleteRequest struct {
	Files   []string `json:"files"`
	Folders []string `json:"folders"`
}

type renameFileRequest struct {
	NewName string `json:"new_name" validate:"required"`
}

type updateTagsRequest struct {
	Set    map[string]string `json:"set"`
	Remove []string          `json:"remove"`
}

func (fc *FileController) CopyItems(c *gin.Context) {
	req, ok := bindTransfer(c)
	if !ok {
		return
	}
	result, err := fc.bulkService.Copy(c.Request.Context(), req.selection(), req.Destination, req.policy())
	respondBulk(c, "Items copied successfully", result, err)
}

func (fc *FileController) MoveItems(c *gin.Context) {
	req, ok := bindTransfer(c)
	if !ok {
		return
	}
	result, err := fc.bulkService.Move(c.Request.Context(), req.selection(), req.Destination, req.policy())
	respondBulk(c, "Items moved successfully", result, err)
}

// bindTransfer reads a copy or move body. Overwriting replaces existing
// bytes without a request, so only admins may ask for it.
func bindTransfer(c *gin.Context) (transferRequest, bool) {
	var req transferRequest
	actor, ok := actorFrom(c)
	if !ok || !bindJSON(c, &req) {
		return req, false
	}
	if req.selection().Empty() {
		utils.BadRequestResponse(c, "Nothing selected", nil)
		return req, false
	}
	if req.policy() == services.OverwriteReplace && !actor.Privileged() {
		utils.ForbiddenResponse(c, "Only admins can overwrite existing files")
		return req, false
	}
	return req, true
}

// DeleteItems deletes the selection for admins. For everyone else each
// item becomes a pending delete request and the response is 202.
func (fc *FileController) DeleteItems(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req deleteRequest
	if !bindJSON(c, &req) {
		return
	}
	sel := services.Selection{Files: req.Files, Folders: req.Folders}
	if sel.Empty() {
		utils.BadRequestResponse(c, "Nothing selected", nil)
		return
	}

	if actor.Privileged() {
		result, err := fc.bulkService.Delete(c.Request.Context(), sel)
		respondBulk(c, "Items deleted successfully", result, err)
		return
	}

	ctx := c.Request.Context()
	created := make([]*models.PendingRequest, 0, len(sel.Files)+len(sel.Folders))
	for _, key := range sel.Files {
		entry, err := fc.fileService.FindByObjectKey(ctx, key)
		if err != nil {
			handleServiceError(c, "Failed to request deletion", err)
			return
		}
		pending, err := fc.requestService.RequestDelete(ctx, actor, entry.ID, "")
		if err != nil {
			handleServiceError(c, "Failed to request deletion", err)
			return
		}
		created = append(created, pending)
	}
	for _, folder := range sel.Folders {
		pending, err := fc.requestService.RequestDelete(ctx, actor, "", folder)
		if err != nil {
			handleServiceError(c, "Failed to request deletion", err)
			return
		}
		created = append(created, pending)
	}

	utils.AcceptedResponse(c, "Delete requests submitted for approval", created)
}

func (fc *FileController) ListFiles(c *gin.Context) {
	files, err := fc.fileService.ListFiles(c.Request.Context(), c.DefaultQuery("path", utils.RootPath))
	if err != nil {
		handleServiceError(c, "Failed to get files", err)
		return
	}
	utils.SuccessResponse(c, "Files retrieved", files)
}

func (fc *FileController) GetFile(c *gin.Context) {
	file, err := fc.fileService.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, "Failed to get file", err)
		return
	}
	utils.SuccessResponse(c, "File retrieved", file)
}

// RenameFile renames directly for admins and files a rename request for
// everyone else.
func (fc *FileController) RenameFile(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var req renameFileRequest
	if !bindJSON(c, &req) {
		return
	}

	fileID := c.Param("id")
	pending, err := fc.requestService.RequestRename(c.Request.Context(), actor, fileID, req.NewName)
	if err != nil {
		handleServiceError(c, "Failed to rename file", err)
		return
	}
	if pending != nil {
		utils.AcceptedResponse(c, "Rename request submitted for approval", pending)
		return
	}

	file, err := fc.fileService.GetFile(c.Request.Context(), fileID)
	if err != nil {
		handleServiceError(c, "Failed to get file", err)
		return
	}
	utils.SuccessResponse(c, "File renamed successfully", file)
}

func (fc *FileController) UpdateTags(c *gin.Context) {
	var req updateTagsRequest
	if !bindJSON(c, &req) {
		return
	}
	if len(req.Set) == 0 && len(req.Remove) == 0 {
		utils.BadRequestResponse(c, "No tag changes provided", nil)
		return
	}

	file, err := fc.fileService.UpdateTags(c.Request.Context(), c.Param("id"), req.Set, req.Remove)
	if err != nil {
		handleServiceError(c, "Failed to update tags", err)
		return
	}
	utils.SuccessResponse(c, "Tags updated", file)
}

// DownloadFile returns the signed URL, or redirects to it with ?redirect=true.
func (fc *FileController) DownloadFile(c *gin.Context) {
	url, err := fc.fileService.DownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleServiceError(c, "Failed to generate download URL", err)
		return
	}
	if c.Query("redirect") == "true" {
		c.Redirect(http.StatusTemporaryRedirect, url)
		return
	}
	utils.SuccessResponse(c, "Download URL generated", gin.H{"download_url": url})
}
