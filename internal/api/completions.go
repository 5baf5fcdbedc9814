package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/loomworks/loom/internal/generate"
)

func (s *Server) handleCompletions(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Prompt.IsZero() || req.Prompt.Text() == "" {
		return writeBadRequest(c, "prompt is required")
	}
	opts, err := s.buildOptions(req.knobs())
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := "cmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := s.responseModel(req.Model)

	if req.Stream {
		return s.streamCompletion(c, req.Prompt.Text(), opts, id, created, model)
	}

	ctx := c.Request().Context()
	res, err := s.eng.Generate(ctx, req.Prompt.Text(), opts, nil)
	if err != nil && !partialResult(err, res) {
		return writeEngineError(c, s.log, err)
	}

	reason := wireFinish(res.Reason)
	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{{
			Index:        0,
			Text:         res.Text,
			FinishReason: &reason,
		}},
		Usage: usageFrom(res.Stats),
	})
}

func (s *Server) streamCompletion(c *echo.Context, prompt string, opts generate.Options, id string, created int64, model string) error {
	sse, err := newSSEWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	chunk := func(text string, finish *string, usage *Usage) CompletionResponse {
		return CompletionResponse{
			ID:      id,
			Object:  "text_completion",
			Created: created,
			Model:   model,
			Choices: []CompletionChoice{{
				Index:        0,
				Text:         text,
				FinishReason: finish,
			}},
			Usage: usage,
		}
	}

	var sendErr error
	stream := func(tok generate.Token) {
		if sendErr != nil || tok.Text == "" {
			return
		}
		sendErr = sse.send(chunk(tok.Text, nil, nil))
	}

	ctx := c.Request().Context()
	res, err := s.eng.Generate(ctx, prompt, opts, stream)
	if err != nil && !partialResult(err, res) {
		s.log.Error("stream failed", "error", err)
		sse.sendError("internal_error", "generation failed")
		sse.done()
		return nil
	}

	reason := wireFinish(res.Reason)
	if sendErr == nil {
		_ = sse.send(chunk("", &reason, usageFrom(res.Stats)))
	}
	sse.done()
	return nil
}

// partialResult reports whether err still left a usable partial result:
// budget expiry and caller cancellation surface alongside whatever text was
// produced before the cut.
func partialResult(err error, res *generate.Result) bool {
	if res == nil {
		return false
	}
	return errors.Is(err, generate.ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
