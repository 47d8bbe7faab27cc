package main

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// lineReader reads questions one line at a time. On a terminal it edits the
// line in raw mode with history; elsewhere it reads plain lines.
type lineReader struct {
	in      io.Reader
	out     io.Writer
	plain   *bufio.Reader
	history []string
}

func newLineReader(in io.Reader, out io.Writer) *lineReader {
	return &lineReader{in: in, out: out}
}

// readPlain reads one newline-terminated line. A final line without a
// newline is returned before io.EOF.
func (r *lineReader) readPlain() (string, error) {
	if r.plain == nil {
		r.plain = bufio.NewReader(r.in)
	}
	s, err := r.plain.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return trimTrailingNewline(s), nil
		}
		return "", err
	}
	return trimTrailingNewline(s), nil
}

func (r *lineReader) remember(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if n := len(r.history); n > 0 && r.history[n-1] == line {
		return
	}
	r.history = append(r.history, line)
}

func trimTrailingNewline(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
