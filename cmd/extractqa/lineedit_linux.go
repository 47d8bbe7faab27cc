//go:build linux

package main

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/sys/unix"
)

// ReadLine prints prompt and returns the next line. Ctrl+C and Ctrl+D on an
// empty line return io.EOF.
func (r *lineReader) ReadLine(prompt string) (string, error) {
	f, ok := r.in.(*os.File)
	if !ok || !stdinIsTTY() {
		_, _ = io.WriteString(r.out, prompt)
		line, err := r.readPlain()
		if err == nil {
			r.remember(line)
		}
		return line, err
	}

	fd := int(f.Fd())
	oldState, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", err
	}
	raw := *oldState
	raw.Lflag &^= unix.ICANON | unix.ECHO
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, oldState)
	}()

	ed := &lineEditor{out: r.out, prompt: prompt, history: r.history, histPos: len(r.history)}
	_, _ = io.WriteString(r.out, prompt)

	var (
		buf     [64]byte
		pending []byte
	)
	for {
		n, err := f.Read(buf[:])
		if err != nil {
			return "", err
		}
		pending = append(pending, buf[:n]...)
		for len(pending) > 0 {
			consumed, done, line, err := ed.feed(pending)
			if consumed == 0 {
				break // incomplete escape sequence or rune
			}
			pending = pending[consumed:]
			if err != nil {
				return "", err
			}
			if done {
				r.remember(line)
				return line, nil
			}
		}
	}
}

// lineEditor holds the state of one line being edited.
type lineEditor struct {
	out     io.Writer
	prompt  string
	line    []rune
	cursor  int
	history []string
	histPos int
	draft   []rune
}

// feed consumes one key from b. It returns how many bytes were used, and
// the finished line when Enter was pressed.
func (e *lineEditor) feed(b []byte) (int, bool, string, error) {
	switch c := b[0]; {
	case c == 27:
		return e.escape(b)
	case c == '\r' || c == '\n':
		_, _ = io.WriteString(e.out, "\r\n")
		return 1, true, string(e.line), nil
	case c == 3: // Ctrl+C
		_, _ = io.WriteString(e.out, "^C\r\n")
		return 1, false, "", io.EOF
	case c == 4: // Ctrl+D
		if len(e.line) == 0 {
			_, _ = io.WriteString(e.out, "\r\n")
			return 1, false, "", io.EOF
		}
		e.deleteAt(e.cursor)
		return 1, false, "", nil
	case c == 127 || c == 8:
		if e.cursor > 0 {
			e.cursor--
			e.deleteAt(e.cursor)
		}
		return 1, false, "", nil
	case c == 1: // Ctrl+A
		e.move(0)
		return 1, false, "", nil
	case c == 5: // Ctrl+E
		e.move(len(e.line))
		return 1, false, "", nil
	case c == 21: // Ctrl+U
		e.line = append(e.line[:0], e.line[e.cursor:]...)
		e.cursor = 0
		e.redraw()
		return 1, false, "", nil
	case c < 32:
		return 1, false, "", nil
	}

	if !utf8.FullRune(b) {
		return 0, false, "", nil
	}
	ch, size := utf8.DecodeRune(b)
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = ch
	e.cursor++
	e.redraw()
	return size, false, "", nil
}

// escape handles ESC [ <params> <final> sequences: arrows, Home, End and
// Delete.
func (e *lineEditor) escape(b []byte) (int, bool, string, error) {
	if len(b) < 2 {
		return 0, false, "", nil
	}
	if b[1] != '[' {
		return 2, false, "", nil
	}
	end := 2
	for end < len(b) && !isFinalByte(b[end]) {
		end++
	}
	if end == len(b) {
		return 0, false, "", nil
	}
	switch string(b[2 : end+1]) {
	case "A":
		e.historyPrev()
	case "B":
		e.historyNext()
	case "C":
		e.move(e.cursor + 1)
	case "D":
		e.move(e.cursor - 1)
	case "H", "1~":
		e.move(0)
	case "F", "4~":
		e.move(len(e.line))
	case "3~":
		e.deleteAt(e.cursor)
	}
	return end + 1, false, "", nil
}

func isFinalByte(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || c == '~'
}

func (e *lineEditor) historyPrev() {
	if e.histPos == 0 {
		return
	}
	if e.histPos == len(e.history) {
		e.draft = append([]rune(nil), e.line...)
	}
	e.histPos--
	e.setLine([]rune(e.history[e.histPos]))
}

func (e *lineEditor) historyNext() {
	if e.histPos >= len(e.history) {
		return
	}
	e.histPos++
	if e.histPos == len(e.history) {
		e.setLine(e.draft)
		return
	}
	e.setLine([]rune(e.history[e.histPos]))
}

func (e *lineEditor) setLine(line []rune) {
	e.line = append(e.line[:0], line...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) deleteAt(i int) {
	if i < 0 || i >= len(e.line) {
		return
	}
	e.line = append(e.line[:i], e.line[i+1:]...)
	e.redraw()
}

func (e *lineEditor) move(to int) {
	e.cursor = max(0, min(to, len(e.line)))
	e.redraw()
}

func (e *lineEditor) redraw() {
	_, _ = fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, string(e.line))
	if e.cursor < len(e.line) {
		_, _ = fmt.Fprintf(e.out, "\r%s%s", e.prompt, string(e.line[:e.cursor]))
	}
}
