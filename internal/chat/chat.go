// Package chat layers named multi-turn conversations over generation
// sessions. Each turn extends the previous token context instead of
// re-encoding the whole transcript, so the cache store's prefix reuse
// applies across turns.
package chat

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/logger"
)

// Message roles as they appear in transcripts and on the wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TurnBoundary is the default stop sequence for chat turns. Generation
// halts when the model starts writing the next user line itself.
const TurnBoundary = "\nUser:"

// Message is one transcript entry. Assistant entries carry scrubbed content;
// Reasoning holds any extracted think-block text.
type Message struct {
	Role      string
	Content   string
	Reasoning string
}

// Config configures a new conversation.
type Config struct {
	// System is an optional preamble rendered ahead of the first turn.
	System string
	// Options are the generation options for every turn. When no stop
	// sequences are set, the conversation installs its own turn boundary.
	Options generate.Options
}

// Manager tracks live conversations by id.
type Manager struct {
	eng *generate.Engine
	log logger.Logger

	mu    sync.Mutex
	convs map[string]*Conversation
}

// NewManager builds a manager over eng. A nil log falls back to the default
// logger.
func NewManager(eng *generate.Engine, log logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		eng:   eng,
		log:   log.WithGroup("chat"),
		convs: make(map[string]*Conversation),
	}
}

// Open returns the conversation with the given id, creating it when absent.
// An empty id gets a generated one. cfg applies only on creation; an
// existing conversation keeps its original configuration.
func (m *Manager) Open(id string, cfg Config) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = "conv_" + uuid.NewString()
	} else if c, ok := m.convs[id]; ok {
		return c, nil
	}

	opts := cfg.Options
	if len(opts.StopSequences) == 0 {
		opts.StopSequences = []string{TurnBoundary}
		opts.StripStopSequence = true
	}
	sess, err := m.eng.NewSession(id, opts)
	if err != nil {
		return nil, fmt.Errorf("open conversation %q: %w", id, err)
	}

	c := &Conversation{
		id:     id,
		eng:    m.eng,
		sess:   sess,
		system: cfg.System,
		log:    m.log.With("conversation", id),
	}
	m.convs[id] = c
	m.log.Debug("conversation opened", "id", id)
	return c, nil
}

// Get returns the conversation with the given id, if it exists.
func (m *Manager) Get(id string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	return c, ok
}

// Remove closes the conversation and drops it from the manager. It reports
// whether the id was present.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	c, ok := m.convs[id]
	delete(m.convs, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

// Len reports the number of live conversations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// Close closes every conversation and empties the manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	convs := m.convs
	m.convs = make(map[string]*Conversation)
	m.mu.Unlock()
	for _, c := range convs {
		_ = c.Close()
	}
	return nil
}
