package controllers

import (
	"github.com/gin-gonic/gin"

	"receiptmanager/services"
	"receiptmanager/utils"
)

type SearchController struct {
	searchService *services.SearchService
}

func NewSearchController(search *services.SearchService) *SearchController {
	return &SearchController{searchService: search}
}

// Search evaluates tag conditions against file documents. An empty
// condition list matches every file up to the result limit.
func (sc *SearchController) Search(c *gin.Context) {
	var query services.SearchQuery
	if !bindJSON(c, &query) {
		return
	}

	result, err := sc.searchService.Search(c.Request.Context(), query)
	if err != nil {
		handleServiceError(c, "Search failed", err)
		return
	}

	message := "Search completed"
	if result.Hint != "" {
		message = result.Hint
	}
	utils.SuccessResponse(c, message, result)
}
