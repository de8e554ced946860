package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/lookup"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/labstack/echo/v4"
)

// ChunkEntitiesHandler resolves the ids reported in a chat answer's metadata
// into nodes, relationships, chunks and communities.
func ChunkEntitiesHandler(c echo.Context) error {
	type chunkEntitiesBody struct {
		Mode        string               `json:"mode"`
		NodeDetails lookup.NodeDetails   `json:"nodedetails"`
		Entities    retrieval.EntityRefs `json:"entities"`
	}

	data := new(chunkEntitiesBody)
	if err := bindValid(c, data); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}
	mode, err := retrieval.ParseMode(data.Mode)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	cc := c.(*middleware.AppContext)
	res, err := cc.App.Lookup.GetEntities(c.Request().Context(), mode, data.NodeDetails, data.Entities)
	if err != nil {
		cc.Log.Error("[Server] Chunk entity lookup failed", "mode", mode, "err", err)
		return c.JSON(http.StatusInternalServerError, res)
	}

	return c.JSON(http.StatusOK, res)
}
