package http

import (
	"github.com/gin-gonic/gin"

	"tenderlens/internal/bootstrap"
	"tenderlens/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = 32 << 20

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	documentHandler := handler.NewDocumentHandler(app.DocumentService)
	extractionHandler := handler.NewExtractionHandler(app.Orchestrator)
	chatHandler := handler.NewChatHandler(app.ChatService)

	v1 := router.Group("/api/v1")

	documents := v1.Group("/documents")
	documents.POST("", documentHandler.Upload)
	documents.GET("", documentHandler.List)
	documents.GET("/:id", documentHandler.Get)
	documents.DELETE("/:id", documentHandler.Delete)
	documents.GET("/:id/requirements", documentHandler.Requirements)
	documents.GET("/:id/bom", documentHandler.BomItems)
	documents.POST("/:id/extract", extractionHandler.StartJob)
	documents.GET("/:id/extract/status", extractionHandler.JobStatus)

	chat := v1.Group("/chat")
	chat.POST("/sessions", chatHandler.CreateSession)
	chat.GET("/sessions", chatHandler.ListSessions)
	chat.GET("/sessions/:id", chatHandler.GetSession)
	chat.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chat.GET("/history", chatHandler.GetHistory)
	chat.POST("/messages", chatHandler.SendMessage)

	return router
}
