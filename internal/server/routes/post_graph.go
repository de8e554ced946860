package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// GraphHandler returns the display graph of the named documents, or of every
// completed document when none are named.
func GraphHandler(c echo.Context) error {
	type graphBody struct {
		DocumentNames []string `json:"document_names"`
	}

	data := new(graphBody)
	if err := c.Bind(data); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}

	cc := c.(*middleware.AppContext)
	g, err := cc.App.Lookup.DocumentGraph(c.Request().Context(), data.DocumentNames)
	if err != nil {
		cc.Log.Error("[Server] Document graph failed", "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to load graph")
	}

	return c.JSON(http.StatusOK, g)
}
