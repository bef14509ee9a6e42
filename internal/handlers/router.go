package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the automation API under /api/v1.
func RegisterRoutes(router *gin.Engine, h *AutomationHandlers) {
	v1 := router.Group("/api/v1")
	{
		automation := v1.Group("/automation")
		{
			automation.POST("/dispatch", h.Dispatch)
		}

		queue := v1.Group("/queue")
		{
			queue.POST("/process", h.ProcessQueue)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("/:id/steps", h.GetExecutionSteps)
		}

		templates := v1.Group("/templates")
		{
			templates.POST("/preview", h.PreviewTemplate)
		}
	}
}
