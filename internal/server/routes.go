package server

import (
	"github.com/OFFIS-RIT/kgraph/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api")

	// Chat routes
	apiRoutes.POST("/chat", routes.ChatHandler)
	apiRoutes.POST("/chat/context", routes.ChatContextHandler)
	apiRoutes.POST("/chunk-entities", routes.ChunkEntitiesHandler)

	// Graph and document routes
	apiRoutes.POST("/graph", routes.GraphHandler)
	apiRoutes.GET("/documents", routes.GetDocumentsHandler)
	apiRoutes.GET("/documents/:name/chunks", routes.GetDocumentChunksHandler)

	// Community routes
	apiRoutes.POST("/communities/build", routes.BuildCommunitiesHandler)
}
