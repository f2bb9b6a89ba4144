package controllers

import (
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gin-gonic/gin"

	"receiptmanager/services"
	"receiptmanager/utils"
)

type UploadController struct {
	uploadService *services.UploadService
	maxFileSize   int64
}

func NewUploadController(uploads *services.UploadService, maxFileSize int64) *UploadController {
	return &UploadController{
		uploadService: uploads,
		maxFileSize:   maxFileSize,
	}
}

// StartUpload accepts a multipart batch (files[], optional relativePath[],
// destination, mode) and returns the queued batch. Progress is polled
// through GetUpload or followed on the event stream.
func (uc *UploadController) StartUpload(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.BadRequestResponse(c, "Invalid multipart form", nil)
		return
	}

	files := form.File["files[]"]
	relativePaths := form.Value["relativePath[]"]

	if len(files) == 0 {
		utils.BadRequestResponse(c, "No files provided", nil)
		return
	}
	if len(relativePaths) > 0 && len(files) != len(relativePaths) {
		utils.BadRequestResponse(c, "Files and relative paths count mismatch", nil)
		return
	}

	batch := make([]services.UploadFile, 0, len(files))
	for i, header := range files {
		if err := utils.ValidateFileSize(header.Size, uc.maxFileSize); err != nil {
			utils.PayloadTooLargeResponse(c, fmt.Sprintf("%s: %v", header.Filename, err))
			return
		}
		file := services.UploadFile{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
		}
		if len(relativePaths) > 0 {
			file.RelativePath = relativePaths[i]
		}
		if file.RelativePath != "" {
			if err := utils.ValidateRelativePath(file.RelativePath); err != nil {
				utils.BadRequestResponse(c, "Invalid relative path", err.Error())
				return
			}
		} else if err := utils.ValidateFileName(file.Name); err != nil {
			utils.BadRequestResponse(c, "Invalid file name", err.Error())
			return
		}
		if file.Data, err = readPart(header); err != nil {
			utils.BadRequestResponse(c, "Failed to read "+header.Filename, nil)
			return
		}
		batch = append(batch, file)
	}

	session, err := uc.uploadService.StartBatch(services.UploadRequest{
		Files:       batch,
		Destination: c.DefaultPostForm("destination", utils.RootPath),
		Mode:        services.OptimizationMode(c.PostForm("mode")),
		UploadedBy:  actor.UserID,
	})
	if err != nil {
		handleServiceError(c, "Failed to start upload", err)
		return
	}
	utils.AcceptedResponse(c, "Upload started", session.Snapshot())
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (uc *UploadController) GetUpload(c *gin.Context) {
	session, err := uc.uploadService.Session(c.Param("id"))
	if err != nil {
		handleServiceError(c, "Failed to get upload", err)
		return
	}
	utils.SuccessResponse(c, "Upload retrieved", session.Snapshot())
}

// PauseUpload, ResumeUpload and CancelUpload act on the task named by
// ?key=, or on every task of the batch when key is empty.
func (uc *UploadController) PauseUpload(c *gin.Context) {
	uc.control(c, "Upload paused", (*services.UploadSession).Pause)
}

func (uc *UploadController) ResumeUpload(c *gin.Context) {
	uc.control(c, "Upload resumed", (*services.UploadSession).Resume)
}

func (uc *UploadController) CancelUpload(c *gin.Context) {
	uc.control(c, "Upload canceled", (*services.UploadSession).Cancel)
}

func (uc *UploadController) control(c *gin.Context, message string, action func(*services.UploadSession, string) error) {
	session, err := uc.uploadService.Session(c.Param("id"))
	if err != nil {
		handleServiceError(c, "Failed to get upload", err)
		return
	}
	if err := action(session, c.Query("key")); err != nil {
		handleServiceError(c, "Failed to update upload", err)
		return
	}
	utils.SuccessResponse(c, message, session.Snapshot())
}

func (uc *UploadController) DismissUpload(c *gin.Context) {
	if err := uc.uploadService.Dismiss(c.Param("id")); err != nil {
		handleServiceError(c, "Failed to dismiss upload", err)
		return
	}
	utils.SuccessResponse(c, "Upload dismissed", nil)
}
