package middleware

import (
	"context"

	"github.com/OFFIS-RIT/kgraph/internal/queue"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"
	"github.com/OFFIS-RIT/kgraph/pkg/lookup"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type Answerer interface {
	Answer(ctx context.Context, msgs []ai.ChatMessage, mode retrieval.Mode, documentNames []string) (query.Answer, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Result, error)
}

type Lookup interface {
	GetEntities(ctx context.Context, mode retrieval.Mode, details lookup.NodeDetails, entities retrieval.EntityRefs) (lookup.Response, error)
	DocumentGraph(ctx context.Context, documentNames []string) (lookup.Graph, error)
	ChunkText(ctx context.Context, documentName string, page int) (lookup.ChunkPage, error)
	CompletedDocuments(ctx context.Context) ([]string, error)
}

type BuildQueue interface {
	EnqueueBuild(ctx context.Context, reason string) (queue.BuildMessage, error)
}

type App struct {
	Answerer  Answerer
	Retriever Retriever
	Lookup    Lookup
	Builds    BuildQueue
}

type AppContext struct {
	echo.Context
	App *App
	Log *logger.Logger
}

// AppContextMiddleware hands every handler the shared services and a logger
// tagged with the request id.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, id)

			cc := &AppContext{c, app, logger.With("request_id", id)}
			return next(cc)
		}
	}
}
