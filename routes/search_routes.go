package routes

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/controllers"
	"receiptmanager/middleware"
)

func RegisterSearchRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	searchController := controllers.NewSearchController(container.Search)

	rg.POST("/search", searchController.Search) // POST /search
}

func RegisterLabelRoutes(rg *gin.RouterGroup, container *ServiceContainer) {
	labelController := controllers.NewLabelController(container.Labels)

	labels := rg.Group("/labels")
	{
		labels.GET("", labelController.GetLabel)                                           // GET /labels?path=
		labels.PUT("", middleware.RequireRole(writers...), labelController.SetLabel)       // PUT /labels?path=
		labels.DELETE("", middleware.RequireRole(writers...), labelController.DeleteLabel) // DELETE /labels?path=
	}

	favorites := rg.Group("/favorites")
	{
		favorites.GET("", labelController.ListFavorites)          // GET /favorites
		favorites.POST("/toggle", labelController.ToggleFavorite) // POST /favorites/toggle
	}
}
