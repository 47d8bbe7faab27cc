//go:build linux

package main

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// typeKeys feeds input to e the way ReadLine does and returns the line
// finished by Enter.
func typeKeys(t *testing.T, e *lineEditor, input string) (string, error) {
	t.Helper()
	pending := []byte(input)
	for len(pending) > 0 {
		n, done, line, err := e.feed(pending)
		if n == 0 {
			t.Fatalf("editor stalled on %q", pending)
		}
		pending = pending[n:]
		if err != nil || done {
			return line, err
		}
	}
	t.Fatalf("input %q never finished the line", input)
	return "", nil
}

func newTestEditor(history ...string) *lineEditor {
	return &lineEditor{out: &bytes.Buffer{}, prompt: "? ", history: history, histPos: len(history)}
}

func TestLineEditorEditing(t *testing.T) {
	cases := []struct {
		name, keys, want string
	}{
		{"plain", "sky\r", "sky"},
		{"backspace", "skz\x7fy\r", "sky"},
		{"left arrow inserts mid-line", "sy\x1b[Dk\r", "sky"},
		{"home and end", "ky\x1b[Hs\x1b[F!\r", "sky!"},
		{"ctrl-a ctrl-e", "ky\x01s\x05?\r", "sky?"},
		{"delete key", "skxy\x1b[D\x1b[D\x1b[3~\r", "sky"},
		{"ctrl-u clears before cursor", "junk\x15sky\r", "sky"},
		{"multibyte", "café\r", "café"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := typeKeys(t, newTestEditor(), tc.keys)
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestLineEditorHistory(t *testing.T) {
	e := newTestEditor("first", "second")
	got, err := typeKeys(t, e, "dra\x1b[A\x1b[A\x1b[B\r")
	if err != nil || got != "second" {
		t.Fatalf("expected recalled entry, got %q, %v", got, err)
	}

	e = newTestEditor("first")
	got, _ = typeKeys(t, e, "draft\x1b[A\x1b[B\r")
	if got != "draft" {
		t.Fatalf("moving past the newest entry must restore the draft, got %q", got)
	}
}

func TestLineEditorEOF(t *testing.T) {
	if _, err := typeKeys(t, newTestEditor(), "\x04"); !errors.Is(err, io.EOF) {
		t.Fatalf("ctrl-d on an empty line must be EOF, got %v", err)
	}
	if _, err := typeKeys(t, newTestEditor(), "abc\x03"); !errors.Is(err, io.EOF) {
		t.Fatalf("ctrl-c must be EOF, got %v", err)
	}
	got, err := typeKeys(t, newTestEditor(), "ab\x01\x04\r")
	if err != nil || got != "b" {
		t.Fatalf("ctrl-d on a non-empty line deletes under the cursor, got %q, %v", got, err)
	}
}

func TestLineEditorIncompleteInput(t *testing.T) {
	e := newTestEditor()
	if n, _, _, _ := e.feed([]byte{0x1b, '['}); n != 0 {
		t.Fatalf("a partial escape sequence must wait for more bytes, consumed %d", n)
	}
	if n, _, _, _ := e.feed([]byte("é")[:1]); n != 0 {
		t.Fatalf("a partial rune must wait for more bytes, consumed %d", n)
	}
}
