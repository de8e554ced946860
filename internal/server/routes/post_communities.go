package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

// BuildCommunitiesHandler queues a community rebuild for the worker.
func BuildCommunitiesHandler(c echo.Context) error {
	type buildBody struct {
		Reason string `json:"reason"`
	}

	data := new(buildBody)
	if err := c.Bind(data); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}

	cc := c.(*middleware.AppContext)
	msg, err := cc.App.Builds.EnqueueBuild(c.Request().Context(), data.Reason)
	if err != nil {
		cc.Log.Error("[Server] Queueing build failed", "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to queue build")
	}

	return c.JSON(http.StatusAccepted, msg)
}
