package routes

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/controllers"
	"receiptmanager/middleware"
)

func RegisterFileRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	fileController := controllers.NewFileController(container.Files, container.Bulk, container.Requests)

	files := rg.Group("/files")
	{
		files.GET("", fileController.ListFiles)                 // GET /files?path=
		files.GET("/:id", fileController.GetFile)               // GET /files/:id
		files.GET("/:id/download", fileController.DownloadFile) // GET /files/:id/download

		// Deletes and renames by non-admins become pending requests.
		write := files.Group("", middleware.RequireRole(writers...))
		write.POST("/copy", fileController.CopyItems)         // POST /files/copy
		write.POST("/move", fileController.MoveItems)         // POST /files/move
		write.POST("/delete", fileController.DeleteItems)     // POST /files/delete
		write.PATCH("/:id/rename", fileController.RenameFile) // PATCH /files/:id/rename
		write.PATCH("/:id/tags", fileController.UpdateTags)   // PATCH /files/:id/tags
	}
}

func RegisterUploadRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	uploadController := controllers.NewUploadController(container.Uploads, container.MaxFileSize)

	uploads := rg.Group("/uploads", middleware.RequireRole(writers...))
	{
		uploads.POST("", uploadController.StartUpload)             // POST /uploads (files[] with relativePath[])
		uploads.GET("/:id", uploadController.GetUpload)            // GET /uploads/:id
		uploads.POST("/:id/pause", uploadController.PauseUpload)   // POST /uploads/:id/pause?key=
		uploads.POST("/:id/resume", uploadController.ResumeUpload) // POST /uploads/:id/resume?key=
		uploads.POST("/:id/cancel", uploadController.CancelUpload) // POST /uploads/:id/cancel?key=
		uploads.DELETE("/:id", uploadController.DismissUpload)     // DELETE /uploads/:id
	}
}
