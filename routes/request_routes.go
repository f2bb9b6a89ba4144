package routes

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/controllers"
	"receiptmanager/middleware"
	"receiptmanager/models"
)

func RegisterRequestRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	requestController := controllers.NewRequestController(container.Requests)

	requests := rg.Group("/requests")
	{
		requests.GET("", requestController.ListRequests)                     // GET /requests?status=
		requests.POST("/role-upgrade", requestController.RequestRoleUpgrade) // POST /requests/role-upgrade

		admin := requests.Group("", middleware.RequireRole(models.RoleAdmin))
		admin.POST("/:id/approve", requestController.ApproveRequest) // POST /requests/:id/approve
		admin.POST("/:id/reject", requestController.RejectRequest)   // POST /requests/:id/reject
	}
}

func RegisterEventRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	eventController := controllers.NewEventController(container.Events)

	rg.GET("/events", eventController.Stream) // GET /events (SSE)
}

func RegisterAdminRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	adminController := controllers.NewAdminController(container.Recompressor)

	admin := rg.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	{
		admin.POST("/recompress", adminController.Recompress) // POST /admin/recompress
	}
}
