package chat

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/kvcache"
	"github.com/loomworks/loom/internal/model"
	"github.com/loomworks/loom/internal/toylm"
)

// fakeModel plays back a fixed token sequence: with L tokens of context the
// next sampled token is script[L], or EOS past the end.
type fakeModel struct {
	script   []int
	forwards atomic.Int64
}

func (m *fakeModel) KVShape() model.Shape { return model.Shape{Layers: 1, Heads: 1, HeadDim: 2} }
func (m *fakeModel) ContextWindow() int   { return 4096 }
func (m *fakeModel) VocabSize() int       { return 257 }

func (m *fakeModel) Forward(cache model.Cache, tokens []int, pos int) ([]float32, error) {
	if pos != cache.Len() {
		return nil, errors.New("fake: position does not continue cache")
	}
	cache.SetLen(pos + len(tokens))
	m.forwards.Add(int64(len(tokens)))

	next := toylm.EOSToken
	if l := cache.Len(); l < len(m.script) {
		next = m.script[l]
	}
	logits := make([]float32, m.VocabSize())
	logits[next] = 10
	return logits, nil
}

func ids(s string) []int {
	out, _ := toylm.Tokenizer{}.Encode(s)
	return out
}

func newManager(t *testing.T, m model.Model) *Manager {
	t.Helper()
	eng, err := generate.NewEngine(m, toylm.Tokenizer{}, kvcache.NewStore(0, 0, nil), generate.Config{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewManager(eng, nil)
}

func greedyConfig(system string) Config {
	o := generate.Default()
	o.Temperature = 0
	return Config{System: system, Options: o}
}

func TestAskBuildsTranscript(t *testing.T) {
	p1 := "System: be brief\nUser: hi\nAssistant:"
	m := &fakeModel{script: ids(p1 + "ok")}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig("be brief"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reply, err := conv.Ask(context.Background(), "hi", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Text != "ok" {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if reply.Raw.Reason != generate.FinishEOS {
		t.Fatalf("reason = %q", reply.Raw.Reason)
	}

	msgs := conv.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript = %+v", msgs)
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hi" {
		t.Fatalf("user entry = %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "ok" {
		t.Fatalf("assistant entry = %+v", msgs[1])
	}
}

func TestSecondTurnExtendsContext(t *testing.T) {
	p1 := "System: be brief\nUser: hi\nAssistant:"
	delta2 := "\nUser: also\nAssistant:"
	full := ids(p1 + "ok" + delta2 + " sure")
	// Turn one ends here; the bytes after this position reach the model as
	// prompt, not as samples.
	full[len(p1)+2] = toylm.EOSToken
	m := &fakeModel{script: full}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig("be brief"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := conv.Ask(context.Background(), "hi", nil); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	turn1 := m.forwards.Load()

	reply, err := conv.Ask(context.Background(), "also", nil)
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if reply.Text != "sure" {
		t.Fatalf("turn 2 text = %q", reply.Text)
	}
	// Only the turn delta and the new tokens run through the model; the
	// shared history comes from the cache.
	wantDelta := int64(len(delta2) + len(" sure"))
	if delta := m.forwards.Load() - turn1; delta != wantDelta {
		t.Fatalf("turn 2 forwarded %d tokens, want %d", delta, wantDelta)
	}
	if cached := reply.Raw.Stats.CachedTokens; cached != len(p1)+2 {
		t.Fatalf("cached tokens = %d, want %d", cached, len(p1)+2)
	}
	if len(conv.Messages()) != 4 {
		t.Fatalf("transcript has %d entries, want 4", len(conv.Messages()))
	}
}

func TestAskSplitsReasoning(t *testing.T) {
	p := "User: q\nAssistant:"
	m := &fakeModel{script: ids(p + "<think>plan</think>yes")}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reply, err := conv.Ask(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Text != "yes" {
		t.Fatalf("text = %q", reply.Text)
	}
	if reply.Reasoning != "plan" {
		t.Fatalf("reasoning = %q", reply.Reasoning)
	}
	msgs := conv.Messages()
	if msgs[1].Content != "yes" || msgs[1].Reasoning != "plan" {
		t.Fatalf("assistant entry = %+v", msgs[1])
	}
}

func TestTurnBoundaryStops(t *testing.T) {
	p := "User: q\nAssistant:"
	m := &fakeModel{script: ids(p + " A\nUser: no")}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	reply, err := conv.Ask(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Raw.Reason != generate.FinishStopSequence {
		t.Fatalf("reason = %q, want stop_sequence", reply.Raw.Reason)
	}
	if reply.Text != "A" {
		t.Fatalf("text = %q, boundary must be stripped", reply.Text)
	}
}

func TestScrub(t *testing.T) {
	cases := []struct{ in, want string }{
		{"plain", "plain"},
		{"  padded \n", "padded"},
		{"done<|im_end|>", "done"},
		{"a<|endoftext|>b</s>", "ab"},
		{"<|eot_id|>", ""},
	}
	for _, tc := range cases {
		if got := Scrub(tc.in); got != tc.want {
			t.Fatalf("Scrub(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestManagerLifecycle(t *testing.T) {
	m := &fakeModel{script: ids("User: q\nAssistant:ok")}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	again, err := mgr.Open("alpha", Config{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if conv != again {
		t.Fatal("Open created a second conversation for the same id")
	}
	if got, ok := mgr.Get("alpha"); !ok || got != conv {
		t.Fatal("Get did not return the open conversation")
	}

	anon, err := mgr.Open("", greedyConfig(""))
	if err != nil {
		t.Fatalf("Open anonymous: %v", err)
	}
	if !strings.HasPrefix(anon.ID(), "conv_") {
		t.Fatalf("generated id = %q", anon.ID())
	}
	if mgr.Len() != 2 {
		t.Fatalf("Len = %d, want 2", mgr.Len())
	}

	if !mgr.Remove("alpha") {
		t.Fatal("Remove reported missing id")
	}
	if mgr.Remove("alpha") {
		t.Fatal("second Remove reported success")
	}
	if _, err := conv.Ask(context.Background(), "q", nil); !errors.Is(err, generate.ErrSessionClosed) {
		t.Fatalf("Ask after Remove err = %v, want ErrSessionClosed", err)
	}

	if err := mgr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mgr.Len() != 0 {
		t.Fatalf("Len after Close = %d", mgr.Len())
	}
}

func TestConversationReset(t *testing.T) {
	p := "User: q\nAssistant:"
	m := &fakeModel{script: ids(p + "ok")}
	mgr := newManager(t, m)

	conv, err := mgr.Open("alpha", greedyConfig(""))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := conv.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if err := conv.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(conv.Messages()) != 0 {
		t.Fatalf("transcript after Reset = %+v", conv.Messages())
	}

	before := m.forwards.Load()
	if _, err := conv.Ask(context.Background(), "q", nil); err != nil {
		t.Fatalf("Ask after Reset: %v", err)
	}
	// The history is gone, so the prompt prefills from scratch.
	if delta := m.forwards.Load() - before; delta < int64(len(p)) {
		t.Fatalf("forwarded %d tokens after Reset, want at least %d", delta, len(p))
	}
}
