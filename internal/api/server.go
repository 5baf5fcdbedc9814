// Package api exposes the engine over an OpenAI-compatible HTTP surface:
// POST /v1/completions, POST /v1/chat/completions (with optional streaming
// via server-sent events), GET /v1/models and GET /healthz.
package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/loomworks/loom/internal/chat"
	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/version"
)

// Options tunes the server. The zero value is usable.
type Options struct {
	// ModelID is the identifier reported by /v1/models and echoed in
	// responses when the request names no model.
	ModelID string

	// MaxNewTokens caps generation for requests that set no max_tokens.
	// Zero applies DefaultMaxNewTokens.
	MaxNewTokens int

	Logger logger.Logger
}

// DefaultMaxNewTokens bounds a request that sets no max_tokens of its own.
const DefaultMaxNewTokens = 256

// Server serves completion and chat completion requests over a single
// engine. Chat requests carrying a session key share state through the
// conversation manager, which keeps their prompt prefixes warm between
// calls.
type Server struct {
	eng     *generate.Engine
	chats   *chat.Manager
	log     logger.Logger
	modelID string
	maxNew  int

	clock func() time.Time
}

// NewServer wires a server over eng. The conversation manager is owned by
// the server and closed with it.
func NewServer(eng *generate.Engine, opts Options) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = "loom"
	}
	maxNew := opts.MaxNewTokens
	if maxNew <= 0 {
		maxNew = DefaultMaxNewTokens
	}
	return &Server{
		eng:     eng,
		chats:   chat.NewManager(eng, log),
		log:     log.WithGroup("api"),
		modelID: modelID,
		maxNew:  maxNew,
		clock:   time.Now,
	}, nil
}

// Register mounts all routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/completions", s.handleCompletions)
	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
}

// Close releases every server-held conversation.
func (s *Server) Close() {
	s.chats.Close()
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []Model{{
			ID:      s.modelID,
			Object:  "model",
			Created: s.clock().Unix(),
			OwnedBy: "loom",
		}},
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

// decodeJSON decodes a request body into T, rejecting malformed input.
func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return v, newInvalidRequest("request body is not valid JSON: %v", err)
	}
	return v, nil
}

// responseModel picks the model id echoed back in responses.
func (s *Server) responseModel(requested string) string {
	if requested != "" {
		return requested
	}
	return s.modelID
}
