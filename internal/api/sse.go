package api

import (
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// sseWriter emits server-sent events as "data:" frames, flushing after
// each so tokens reach the client as they are sampled.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func newSSEWriter(c *echo.Context) (*sseWriter, error) {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	return &sseWriter{w: res, flush: flusher.Flush}, nil
}

// send marshals v into one data frame.
func (s *sseWriter) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flush()
	return nil
}

// done writes the terminating sentinel frame.
func (s *sseWriter) done() {
	fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flush()
}

// sendError delivers a best-effort error frame mid-stream; by this point
// the 200 header is already on the wire.
func (s *sseWriter) sendError(typ, message string) {
	_ = s.send(errorEnvelope{Error: apiError{Message: message, Type: typ}})
}
