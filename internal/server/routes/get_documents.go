package routes

import (
	"net/http"
	"strconv"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func GetDocumentsHandler(c echo.Context) error {
	cc := c.(*middleware.AppContext)
	names, err := cc.App.Lookup.CompletedDocuments(c.Request().Context())
	if err != nil {
		cc.Log.Error("[Server] Listing documents failed", "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to list documents")
	}

	return c.JSON(http.StatusOK, map[string][]string{"documents": names})
}

// GetDocumentChunksHandler pages through a document's chunk text with ?page=N.
func GetDocumentChunksHandler(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return jsonError(c, http.StatusBadRequest, "Missing document name")
	}

	page := 1
	if raw := c.QueryParam("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return jsonError(c, http.StatusBadRequest, "Invalid page")
		}
		page = p
	}

	cc := c.(*middleware.AppContext)
	res, err := cc.App.Lookup.ChunkText(c.Request().Context(), name, page)
	if err != nil {
		cc.Log.Error("[Server] Reading chunk text failed", "document", name, "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to read chunks")
	}

	return c.JSON(http.StatusOK, res)
}
