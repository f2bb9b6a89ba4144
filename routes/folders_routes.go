package routes

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/controllers"
	"receiptmanager/middleware"
	"receiptmanager/models"
)

func RegisterFolderRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	folderController := controllers.NewFolderController(container.Tree, container.Files, container.Bulk)

	tree := rg.Group("/tree")
	{
		tree.GET("", folderController.GetTree)              // GET /tree?path=
		tree.POST("/refresh", folderController.RefreshTree) // POST /tree/refresh
	}

	folders := rg.Group("/folders")
	{
		folders.POST("", middleware.RequireRole(writers...), folderController.CreateFolder)              // POST /folders
		folders.POST("/rename", middleware.RequireRole(models.RoleAdmin), folderController.RenameFolder) // POST /folders/rename
	}
}
