package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/loomworks/loom/internal/chat"
	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/reasoning"
)

// chatOutcome is one finished chat turn, reasoning already split off and
// sentinel pieces scrubbed.
type chatOutcome struct {
	content   string
	reasoning string
	stats     generate.Stats
	reason    generate.FinishReason
}

// chatRunner produces a turn, streaming raw token text through fn when one
// is given.
type chatRunner func(ctx context.Context, fn generate.StreamFunc) (*chatOutcome, error)

func (s *Server) handleChatCompletions(c *echo.Context) error {
	req, err := decodeJSON[ChatCompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Messages) == 0 {
		return writeBadRequest(c, "messages is required")
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != chat.RoleUser {
		return writeBadRequest(c, `last message must have role "user"`)
	}
	if strings.TrimSpace(last.Content) == "" {
		return writeBadRequest(c, "last message has no content")
	}
	opts, err := s.buildOptions(req.knobs())
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	id := "chatcmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := s.responseModel(req.Model)

	var run chatRunner
	if req.Session != "" {
		// Server-held conversation: transcript and cache survive between
		// calls, so only the newest user message matters here. Sampling
		// options bind when the session is first opened.
		conv, err := s.chats.Open(req.Session, chat.Config{
			System:  systemText(req.Messages),
			Options: opts,
		})
		if err != nil {
			return writeEngineError(c, s.log, err)
		}
		run = func(ctx context.Context, fn generate.StreamFunc) (*chatOutcome, error) {
			reply, err := conv.Ask(ctx, last.Content, fn)
			if reply == nil {
				return nil, err
			}
			return &chatOutcome{
				content:   reply.Text,
				reasoning: reply.Reasoning,
				stats:     reply.Raw.Stats,
				reason:    reply.Raw.Reason,
			}, nil
		}
	} else {
		if len(opts.StopSequences) == 0 {
			opts.StopSequences = []string{chat.TurnBoundary}
			opts.StripStopSequence = true
		}
		prompt := chat.Render("", toChatMessages(req.Messages[:len(req.Messages)-1]), last.Content)
		run = func(ctx context.Context, fn generate.StreamFunc) (*chatOutcome, error) {
			res, err := s.eng.Generate(ctx, prompt, opts, fn)
			if err != nil && !partialResult(err, res) {
				return nil, err
			}
			seg := reasoning.Split(res.Text)
			return &chatOutcome{
				content:   chat.Scrub(seg.Content),
				reasoning: strings.TrimSpace(seg.Reasoning),
				stats:     res.Stats,
				reason:    res.Reason,
			}, nil
		}
	}

	if req.Stream {
		return s.streamChat(c, run, id, created, model)
	}

	out, err := run(c.Request().Context(), nil)
	if err != nil {
		return writeEngineError(c, s.log, err)
	}
	reason := wireFinish(out.reason)
	return c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []ChatChoice{{
			Index: 0,
			Message: &ChatMessage{
				Role:             chat.RoleAssistant,
				Content:          out.content,
				ReasoningContent: out.reasoning,
			},
			FinishReason: &reason,
		}},
		Usage: usageFrom(out.stats),
	})
}

// streamChat emits the standard chunk sequence: a role frame, content and
// reasoning deltas as tokens arrive, then a finish frame with usage and the
// DONE sentinel. Reasoning tags are stripped from the live stream and their
// bodies rerouted to the reasoning_content channel.
func (s *Server) streamChat(c *echo.Context, run chatRunner, id string, created int64, model string) error {
	sse, err := newSSEWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	chunk := func(delta *ChatDelta, finish *string, usage *Usage) ChatCompletionChunk {
		return ChatCompletionChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []ChatChoice{{
				Index:        0,
				Delta:        delta,
				FinishReason: finish,
			}},
			Usage: usage,
		}
	}

	var sendErr error
	send := func(delta *ChatDelta, finish *string, usage *Usage) {
		if sendErr != nil {
			return
		}
		sendErr = sse.send(chunk(delta, finish, usage))
	}

	send(&ChatDelta{Role: chat.RoleAssistant}, nil, nil)

	var split reasoning.Stream
	emit := func(content, thought string) {
		if content != "" {
			send(&ChatDelta{Content: content}, nil, nil)
		}
		if thought != "" {
			send(&ChatDelta{ReasoningContent: thought}, nil, nil)
		}
	}
	stream := func(tok generate.Token) {
		if tok.Text == "" {
			return
		}
		emit(split.Feed(tok.Text))
	}

	out, err := run(c.Request().Context(), stream)
	if err != nil {
		s.log.Error("stream failed", "error", err)
		sse.sendError("internal_error", "generation failed")
		sse.done()
		return nil
	}

	emit(split.Flush())
	reason := wireFinish(out.reason)
	send(&ChatDelta{}, &reason, usageFrom(out.stats))
	sse.done()
	return nil
}

// systemText pulls the first system message out of a transcript.
func systemText(msgs []ChatMessage) string {
	for _, m := range msgs {
		if m.Role == chat.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func toChatMessages(msgs []ChatMessage) []chat.Message {
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chat.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
