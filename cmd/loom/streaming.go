package main

import (
	"bufio"
	"io"

	"github.com/loomworks/loom/internal/generate"
	"github.com/loomworks/loom/internal/reasoning"
)

const (
	ansiDim   = "\x1b[2m"
	ansiReset = "\x1b[0m"
)

// tokenPrinter renders streamed tokens to a terminal, separating reasoning
// from answer text as it goes. Reasoning is dimmed when shown and dropped
// entirely otherwise.
type tokenPrinter struct {
	out           *bufio.Writer
	split         reasoning.Stream
	showReasoning bool
	color         bool
	inReasoning   bool
	wrote         bool
}

func newTokenPrinter(w io.Writer, showReasoning, color bool) *tokenPrinter {
	return &tokenPrinter{
		out:           bufio.NewWriter(w),
		showReasoning: showReasoning,
		color:         color,
	}
}

// Print handles one token event.
func (p *tokenPrinter) Print(tok generate.Token) {
	if tok.Text == "" {
		return
	}
	content, thought := p.split.Feed(tok.Text)
	p.emit(content, thought)
}

// Finish releases any withheld text and restores the terminal state. It
// reports whether anything was printed.
func (p *tokenPrinter) Finish() bool {
	p.emit(p.split.Flush())
	if p.inReasoning {
		p.leaveReasoning()
	}
	_ = p.out.Flush()
	return p.wrote
}

func (p *tokenPrinter) emit(content, thought string) {
	if thought != "" && p.showReasoning {
		if !p.inReasoning {
			if p.color {
				_, _ = p.out.WriteString(ansiDim)
			}
			p.inReasoning = true
		}
		_, _ = p.out.WriteString(thought)
		p.wrote = true
	}
	if content != "" {
		if p.inReasoning {
			p.leaveReasoning()
		}
		_, _ = p.out.WriteString(content)
		p.wrote = true
	}
	_ = p.out.Flush()
}

func (p *tokenPrinter) leaveReasoning() {
	if p.color {
		_, _ = p.out.WriteString(ansiReset)
	}
	_, _ = p.out.WriteString("\n")
	p.inReasoning = false
}
