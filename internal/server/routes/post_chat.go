package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/kgraph/internal/server/middleware"
	"github.com/OFFIS-RIT/kgraph/pkg/ai"
	"github.com/OFFIS-RIT/kgraph/pkg/query"
	"github.com/OFFIS-RIT/kgraph/pkg/retrieval"

	"github.com/labstack/echo/v4"
)

// ChatHandler answers the last user message of a conversation.
func ChatHandler(c echo.Context) error {
	type chatBody struct {
		Messages      []ai.ChatMessage `json:"messages" validate:"required,min=1,dive"`
		Mode          string           `json:"mode"`
		DocumentNames []string         `json:"document_names"`
	}

	data := new(chatBody)
	if err := bindValid(c, data); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}
	mode, err := retrieval.ParseMode(data.Mode)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	cc := c.(*middleware.AppContext)
	ans, err := cc.App.Answerer.Answer(c.Request().Context(), data.Messages, mode, data.DocumentNames)
	if errors.Is(err, query.ErrNoQuestion) {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		cc.Log.Error("[Server] Chat failed", "mode", mode, "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to answer question")
	}

	return c.JSON(http.StatusOK, ans)
}

// ChatContextHandler returns the retrieval context for a question without
// asking the model.
func ChatContextHandler(c echo.Context) error {
	type contextBody struct {
		Question      string   `json:"question" validate:"required"`
		Mode          string   `json:"mode"`
		DocumentNames []string `json:"document_names"`
	}

	data := new(contextBody)
	if err := bindValid(c, data); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body")
	}
	mode, err := retrieval.ParseMode(data.Mode)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	cc := c.(*middleware.AppContext)
	res, err := cc.App.Retriever.Retrieve(c.Request().Context(), retrieval.Request{
		Question:      data.Question,
		Mode:          mode,
		DocumentNames: data.DocumentNames,
	})
	if errors.Is(err, retrieval.ErrEmptyQuestion) {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	if err != nil {
		cc.Log.Error("[Server] Retrieval failed", "mode", mode, "err", err)
		return jsonError(c, http.StatusInternalServerError, "Failed to retrieve context")
	}

	return c.JSON(http.StatusOK, res)
}
