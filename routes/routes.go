// routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/jobs"
	"receiptmanager/middleware"
	"receiptmanager/models"
	"receiptmanager/services"
)

// ServiceContainer holds all services and dependencies
type ServiceContainer struct {
	JWTSecret   string
	JWTIssuer   string
	MaxFileSize int64

	Tree         *services.TreeService
	Bulk         *services.BulkService
	Files        *services.FileService
	Uploads      *services.UploadService
	Requests     *services.RequestService
	Search       *services.SearchService
	Labels       *services.LabelService
	Events       *services.EventHub
	Recompressor *jobs.Recompressor
}

// Roles that may change content. Viewers only read.
var writers = []string{models.RoleAdmin, models.RoleEditor}

// SetupRoutes configures all API routes for the application.
// Every route below api requires a bearer token.
func SetupRoutes(api *gin.RouterGroup, container *ServiceContainer) {
	api.Use(middleware.AuthMiddleware(container.JWTSecret, container.JWTIssuer))

	RegisterFolderRoutes(api, container)
	RegisterFileRoutes(api, container)
	RegisterUploadRoutes(api, container)
	RegisterRequestRoutes(api, container)
	RegisterSearchRoutes(api, container)
	RegisterLabelRoutes(api, container)
	RegisterEventRoutes(api, container)
	RegisterAdminRoutes(api, container)
}
