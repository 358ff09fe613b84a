// Copyright (c) 2026, Daniel Martí <mvdan@mvdan.cc>
// See LICENSE for licensing information

// Package lineedit implements a minimal raw-mode line editor for the
// interactive shell prompt, with persistent history.
package lineedit

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/renameio/v2"
	"golang.org/x/term"
)

// ErrInterrupted is returned by [Editor.ReadLine] when the user presses
// Ctrl-C before completing a line.
var ErrInterrupted = errors.New("lineedit: interrupted")

// Editor reads interactive command lines from a terminal, with basic
// cursor movement, backspace, and up/down history recall. It falls
// back to buffered (bufio) newline-delimited reads when in isn't a terminal,
// so scripts piped into an interactive shell still work.
type Editor struct {
	in     *os.File
	out    io.Writer
	fd     int
	isTerm bool

	br *bufio.Reader // used only in the fallback path (no terminal, or raw mode refused)

	histPath string
	history  []string
	histMax  int
}

// New returns an Editor reading from in and writing prompts/echo to out.
// histPath, if non-empty, is loaded immediately and appended to on Close.
func New(in *os.File, out io.Writer, histPath string) *Editor {
	fd := int(in.Fd())
	e := &Editor{
		in:       in,
		out:      out,
		fd:       fd,
		isTerm:   term.IsTerminal(fd),
		histPath: histPath,
		histMax:  1000,
	}
	if !e.isTerm {
		e.br = bufio.NewReader(in)
	}
	if histPath != "" {
		e.loadHistory()
	}
	return e
}

func (e *Editor) loadHistory() {
	data, err := os.ReadFile(e.histPath)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			e.history = append(e.history, line)
		}
	}
}

// Close saves history to disk, if configured.
func (e *Editor) Close() error {
	if e.histPath == "" {
		return nil
	}
	lines := e.history
	if len(lines) > e.histMax {
		lines = lines[len(lines)-e.histMax:]
	}
	return renameio.WriteFile(e.histPath, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// ReadLine prompts and reads a single logical input line. On Ctrl-D with
// an empty buffer it returns io.EOF. On Ctrl-C it returns
// ErrInterrupted with whatever had been typed so far discarded.
func (e *Editor) ReadLine(prompt string) (string, error) {
	if !e.isTerm {
		return e.readLineFallback(prompt)
	}
	return e.readLineRaw(prompt)
}

func (e *Editor) readLineFallback(prompt string) (string, error) {
	fmt.Fprint(e.out, prompt)
	if e.br == nil {
		e.br = bufio.NewReader(e.in)
	}
	line, err := e.br.ReadString('\n')
	if err != nil && line == "" {
		return "", io.EOF
	}
	return strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"), nil
}

func (e *Editor) readLineRaw(prompt string) (string, error) {
	oldState, err := term.MakeRaw(e.fd)
	if err != nil {
		// Terminal refused raw mode (e.g. detached controlling tty);
		// degrade gracefully rather than hang.
		return e.readLineFallback(prompt)
	}
	defer term.Restore(e.fd, oldState)

	fmt.Fprint(e.out, prompt)

	var buf []rune
	pos := 0
	histIdx := len(e.history)
	saved := ""

	redraw := func() {
		fmt.Fprint(e.out, "\r\x1b[K", prompt, string(buf))
		if back := len(buf) - pos; back > 0 {
			fmt.Fprintf(e.out, "\x1b[%dD", back)
		}
	}

	one := make([]byte, 1)
	for {
		if _, err := e.in.Read(one); err != nil {
			if len(buf) == 0 {
				return "", io.EOF
			}
			return string(buf), nil
		}
		b := one[0]
		switch b {
		case '\r', '\n':
			fmt.Fprint(e.out, "\r\n")
			line := string(buf)
			if strings.TrimSpace(line) != "" {
				e.history = append(e.history, line)
			}
			return line, nil
		case 3: // Ctrl-C
			fmt.Fprint(e.out, "^C\r\n")
			return "", ErrInterrupted
		case 4: // Ctrl-D
			if len(buf) == 0 {
				fmt.Fprint(e.out, "\r\n")
				return "", io.EOF
			}
		case 127, 8: // backspace
			if pos > 0 {
				buf = append(buf[:pos-1], buf[pos:]...)
				pos--
				redraw()
			}
		case 21: // Ctrl-U: clear line
			buf = buf[:0]
			pos = 0
			redraw()
		case 11: // Ctrl-K: delete to end of line
			buf = buf[:pos]
			redraw()
		case 23: // Ctrl-W: delete previous word
			start := pos
			for start > 0 && buf[start-1] == ' ' {
				start--
			}
			for start > 0 && buf[start-1] != ' ' {
				start--
			}
			buf = append(buf[:start], buf[pos:]...)
			pos = start
			redraw()
		case 1: // Ctrl-A: start of line
			pos = 0
			redraw()
		case 5: // Ctrl-E: end of line
			pos = len(buf)
			redraw()
		case 0x1b: // escape sequence, likely an arrow key
			seq := make([]byte, 2)
			if n, _ := e.in.Read(seq); n < 2 || seq[0] != '[' {
				continue
			}
			switch seq[1] {
			case 'A': // up
				if histIdx > 0 {
					if histIdx == len(e.history) {
						saved = string(buf)
					}
					histIdx--
					buf = []rune(e.history[histIdx])
					pos = len(buf)
					redraw()
				}
			case 'B': // down
				if histIdx < len(e.history) {
					histIdx++
					if histIdx == len(e.history) {
						buf = []rune(saved)
					} else {
						buf = []rune(e.history[histIdx])
					}
					pos = len(buf)
					redraw()
				}
			case 'C': // right
				if pos < len(buf) {
					pos++
					redraw()
				}
			case 'D': // left
				if pos > 0 {
					pos--
					redraw()
				}
			}
		default:
			if b >= 0x20 {
				buf = append(buf[:pos], append([]rune{rune(b)}, buf[pos:]...)...)
				pos++
				redraw()
			}
		}
	}
}
