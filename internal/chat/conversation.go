package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/logger"
	"github.com/loomworks/loom/internal/reasoning"
)

// Conversation is one multi-turn exchange bound to a generation session.
// Turns are serialized: a second Ask waits for the first to finish.
type Conversation struct {
	id     string
	eng    *generate.Engine
	sess   *generate.Session
	system string
	log    logger.Logger

	mu    sync.Mutex
	turns []Message
}

// Reply is the outcome of one turn.
type Reply struct {
	// Text is the assistant's answer with sentinel tokens and reasoning
	// removed.
	Text string
	// Reasoning holds extracted think-block text, if any.
	Reasoning string
	// Raw is the underlying generation result, including stats.
	Raw *generate.Result
}

// ID returns the conversation id, which also keys its cache entry.
func (c *Conversation) ID() string { return c.id }

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Ask submits one user turn and returns the assistant's reply. Token events
// stream through fn as they are produced, unsplit. On timeout or
// cancellation the partial turn is recorded and returned alongside the
// error, matching what the session's context retains.
func (c *Conversation) Ask(ctx context.Context, text string, fn generate.StreamFunc) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.promptIDs(text)
	if err != nil {
		return nil, err
	}

	res, genErr := c.sess.GenerateTokens(ctx, ids, fn)
	if genErr != nil && (res == nil || res.Text == "" || len(c.sess.Context()) == 0) {
		// Nothing usable was produced, or the session lost its cache and
		// rolled the context back; the transcript stays as it was.
		return nil, genErr
	}

	seg := reasoning.Split(res.Text)
	reply := &Reply{
		Text:      Scrub(seg.Content),
		Reasoning: strings.TrimSpace(seg.Reasoning),
		Raw:       res,
	}
	c.turns = append(c.turns,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: reply.Text, Reasoning: reply.Reasoning},
	)
	c.log.Debug("turn complete",
		"generated", res.Stats.TokensGenerated,
		"cached", res.Stats.CachedTokens,
		"reason", res.Reason,
	)
	return reply, genErr
}

// Reset clears the transcript and the session's context and cache.
func (c *Conversation) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sess.Reset(); err != nil {
		return err
	}
	c.turns = nil
	return nil
}

// Close releases the session and its cache entry.
func (c *Conversation) Close() error {
	return c.sess.Close()
}

// promptIDs builds the token ids for a new user turn. While the session
// holds context, only the turn delta is encoded and appended, keeping
// earlier positions reusable. After a reset or cache loss the whole
// transcript is rendered afresh.
func (c *Conversation) promptIDs(text string) ([]int, error) {
	prior := c.sess.Context()

	var prompt string
	if len(prior) == 0 {
		prompt = Render(c.system, c.turns, text)
	} else {
		prompt = "\nUser: " + text + "\nAssistant:"
	}

	ids, err := c.eng.Encode(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode turn: %w", err)
	}
	return append(prior, ids...), nil
}

// Render lays a transcript out in the plain role-tagged format the engine
// consumes. pending is the user turn awaiting an answer; the returned text
// ends with the assistant marker so generation continues from there.
func Render(system string, msgs []Message, pending string) string {
	var b strings.Builder
	if system != "" {
		b.WriteString("System: ")
		b.WriteString(system)
		b.WriteString("\n")
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			b.WriteString("System: ")
		case RoleUser:
			b.WriteString("User: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(pending)
	b.WriteString("\nAssistant:")
	return b.String()
}
