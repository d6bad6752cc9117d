package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/meetrec/internal/handlers"
)

func registerMonitoringRoutes(api *gin.RouterGroup, handler *handlers.MonitoringHandler) {
	if handler == nil {
		return
	}
	api.GET("/monitoring/summary", handler.Summary)
}
