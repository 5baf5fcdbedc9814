package api

import (
	"bytes"
	"fmt"

	json "github.com/goccy/go-json"
)

// Prompt accepts either a JSON string or an array of strings. Array form
// is joined with newlines before generation.
type Prompt struct {
	parts []string
}

// UnmarshalJSON decodes the string or array form.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return fmt.Errorf("prompt: empty value")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		p.parts = []string{s}
		return nil
	case '[':
		var parts []string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		p.parts = parts
		return nil
	case 'n': // null
		p.parts = nil
		return nil
	default:
		return fmt.Errorf("prompt: must be a string or an array of strings")
	}
}

// MarshalJSON emits the string form when a single part is held.
func (p Prompt) MarshalJSON() ([]byte, error) {
	if len(p.parts) == 1 {
		return json.Marshal(p.parts[0])
	}
	return json.Marshal(p.parts)
}

// Text joins the parts into the prompt handed to the engine.
func (p Prompt) Text() string {
	switch len(p.parts) {
	case 0:
		return ""
	case 1:
		return p.parts[0]
	}
	joined := p.parts[0]
	for _, part := range p.parts[1:] {
		joined += "\n" + part
	}
	return joined
}

// IsZero reports whether no prompt was supplied.
func (p Prompt) IsZero() bool {
	return len(p.parts) == 0
}
