//go:build linux

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// replHistory holds prior inputs for up/down recall across turns.
var replHistory []string

// readInteractiveLine reads one line with emacs-style editing when stdin is a
// terminal, falling back to buffered reads when it is not.
func readInteractiveLine(prompt string) (string, error) {
	if !stdinIsTTY() {
		r := bufio.NewReader(os.Stdin)
		s, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return trimTrailingNewline(s), nil
	}

	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, saved)
	}()

	fmt.Print(prompt)
	ed := &lineEditor{prompt: prompt, histPos: len(replHistory)}
	return ed.run()
}

type lineEditor struct {
	prompt   string
	buf      []byte
	cur      int
	histPos  int
	browsing bool
	draft    string
}

func (e *lineEditor) run() (string, error) {
	var in [16]byte
	esc := 0 // 0 plain, 1 after ESC, 2 inside a CSI sequence
	var seq strings.Builder
	for {
		n, err := os.Stdin.Read(in[:])
		if err != nil {
			return "", err
		}
		for _, b := range in[:n] {
			if esc == 1 {
				switch {
				case b == '[':
					esc = 2
					seq.Reset()
				case b == 'b' || b == 'B': // Alt+b
					e.wordLeft()
					esc = 0
				case b == 'f' || b == 'F': // Alt+f
					e.wordRight()
					esc = 0
				case b == 127: // Alt+Backspace
					e.killWordBack()
					esc = 0
				default:
					esc = 0
				}
				continue
			}
			if esc == 2 {
				seq.WriteByte(b)
				if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
					e.applyCSI(seq.String())
					esc = 0
				}
				continue
			}

			switch b {
			case 27: // ESC
				esc = 1
			case '\r', '\n':
				fmt.Print("\r\n")
				out := string(e.buf)
				if strings.TrimSpace(out) != "" {
					replHistory = append(replHistory, out)
				}
				return out, nil
			case 3: // Ctrl+C
				fmt.Print("^C\r\n")
				return "", io.EOF
			case 4: // Ctrl+D on an empty line ends the session
				if len(e.buf) == 0 {
					fmt.Print("\r\n")
					return "", io.EOF
				}
			case 127, 8: // backspace
				if e.cur > 0 {
					e.buf = append(e.buf[:e.cur-1], e.buf[e.cur:]...)
					e.cur--
					e.redraw()
				}
			case 1: // Ctrl+A
				e.cur = 0
				e.redraw()
			case 5: // Ctrl+E
				e.cur = len(e.buf)
				e.redraw()
			case 23: // Ctrl+W
				e.killWordBack()
			default:
				if b >= 32 {
					e.insert(b)
				}
			}
		}
	}
}

func (e *lineEditor) redraw() {
	fmt.Printf("\r%s%s", e.prompt, string(e.buf))
	fmt.Print("\x1b[K")
	if e.cur < len(e.buf) {
		fmt.Printf("\r%s%s", e.prompt, string(e.buf[:e.cur]))
	}
}

func (e *lineEditor) insert(b byte) {
	if e.cur == len(e.buf) {
		e.buf = append(e.buf, b)
	} else {
		e.buf = append(e.buf, 0)
		copy(e.buf[e.cur+1:], e.buf[e.cur:])
		e.buf[e.cur] = b
	}
	e.cur++
	e.redraw()
}

func wordSep(b byte) bool {
	return b == ' ' || b == '\t'
}

func (e *lineEditor) wordLeft() {
	if e.cur == 0 {
		return
	}
	for e.cur > 0 && wordSep(e.buf[e.cur-1]) {
		e.cur--
	}
	for e.cur > 0 && !wordSep(e.buf[e.cur-1]) {
		e.cur--
	}
	e.redraw()
}

func (e *lineEditor) wordRight() {
	if e.cur >= len(e.buf) {
		return
	}
	for e.cur < len(e.buf) && wordSep(e.buf[e.cur]) {
		e.cur++
	}
	for e.cur < len(e.buf) && !wordSep(e.buf[e.cur]) {
		e.cur++
	}
	e.redraw()
}

func (e *lineEditor) killWordBack() {
	if e.cur == 0 {
		return
	}
	start := e.cur
	for start > 0 && wordSep(e.buf[start-1]) {
		start--
	}
	for start > 0 && !wordSep(e.buf[start-1]) {
		start--
	}
	e.buf = append(e.buf[:start], e.buf[e.cur:]...)
	e.cur = start
	e.redraw()
}

func (e *lineEditor) killWordForward() {
	if e.cur >= len(e.buf) {
		return
	}
	end := e.cur
	for end < len(e.buf) && wordSep(e.buf[end]) {
		end++
	}
	for end < len(e.buf) && !wordSep(e.buf[end]) {
		end++
	}
	e.buf = append(e.buf[:e.cur], e.buf[end:]...)
	e.redraw()
}

func (e *lineEditor) applyCSI(seq string) {
	switch seq {
	case "A": // up: browse history
		if len(replHistory) == 0 {
			return
		}
		if !e.browsing {
			e.draft = string(e.buf)
			e.browsing = true
			e.histPos = len(replHistory)
		}
		if e.histPos > 0 {
			e.histPos--
			e.buf = append(e.buf[:0], replHistory[e.histPos]...)
			e.cur = len(e.buf)
			e.redraw()
		}
	case "B": // down
		if !e.browsing {
			return
		}
		if e.histPos < len(replHistory)-1 {
			e.histPos++
			e.buf = append(e.buf[:0], replHistory[e.histPos]...)
		} else {
			e.histPos = len(replHistory)
			e.buf = append(e.buf[:0], e.draft...)
			e.browsing = false
		}
		e.cur = len(e.buf)
		e.redraw()
	case "D": // left
		if e.cur > 0 {
			e.cur--
			e.redraw()
		}
	case "C": // right
		if e.cur < len(e.buf) {
			e.cur++
			e.redraw()
		}
	case "H": // home
		e.cur = 0
		e.redraw()
	case "F": // end
		e.cur = len(e.buf)
		e.redraw()
	case "3~": // delete
		if e.cur < len(e.buf) {
			e.buf = append(e.buf[:e.cur], e.buf[e.cur+1:]...)
			e.redraw()
		}
	case "1;5D", "5D": // Ctrl+Left
		e.wordLeft()
	case "1;5C", "5C": // Ctrl+Right
		e.wordRight()
	case "3;5~": // Ctrl+Delete
		e.killWordForward()
	}
}

func trimTrailingNewline(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\n' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '\r' {
		s = s[:len(s)-1]
	}
	return s
}
