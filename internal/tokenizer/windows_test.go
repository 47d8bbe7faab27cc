package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/samcharles93/extractqa/internal/spans"
)

const skyQuestion = "What color is the sky?"

func newSkyWindower(t *testing.T, cfg WindowConfig) (*HFTokenizer, *Windower) {
	t.Helper()
	tok := newSkyTokenizer(t)
	w, err := NewWindower(tok, cfg)
	if err != nil {
		t.Fatalf("new windower: %v", err)
	}
	return tok, w
}

// contextTokens returns the context positions of win, found after the
// <s> question </s></s> prefix.
func contextTokens(win spans.Window, questionLen int) []int {
	var out []int
	for i := questionLen + 3; i < win.Len(); i++ {
		if win.SpecialMask[i] == 0 {
			out = append(out, i)
		}
	}
	return out
}

func TestWindowsShortContextSingleWindow(t *testing.T) {
	t.Parallel()

	tok, w := newSkyWindower(t, DefaultWindowConfig())
	context := "The sky is blue."
	windows, err := w.Windows(skyQuestion, context)
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected one window, got %d", len(windows))
	}
	q, _ := tok.EncodeOffsets(skyQuestion)
	c, _ := tok.EncodeOffsets(context)
	win := windows[0]
	if win.Len() != len(q)+len(c)+pairOverhead {
		t.Fatalf("unexpected window length %d", win.Len())
	}

	if win.InputIDs[0] != 0 || win.SpecialMask[0] != 1 {
		t.Fatalf("position 0 must be the special <s> anchor")
	}
	for i := 1; i <= len(q); i++ {
		if win.SpecialMask[i] != 0 || !win.Offsets[i].Empty() {
			t.Fatalf("question token %d must be plain with an empty offset", i)
		}
	}
	for _, i := range []int{len(q) + 1, len(q) + 2, win.Len() - 1} {
		if win.InputIDs[i] != 2 || win.SpecialMask[i] != 1 {
			t.Fatalf("position %d must be </s>", i)
		}
	}
	for i, pos := range contextTokens(win, len(q)) {
		if win.InputIDs[pos] != c[i].ID || win.Offsets[pos] != c[i].Offset {
			t.Fatalf("context token %d mismatch", i)
		}
	}
	for i, a := range win.AttentionMask {
		if a != 1 {
			t.Fatalf("unexpected padding at %d", i)
		}
	}
}

func TestWindowsEmptyContext(t *testing.T) {
	t.Parallel()

	tok, w := newSkyWindower(t, DefaultWindowConfig())
	windows, err := w.Windows(skyQuestion, "")
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	q, _ := tok.EncodeOffsets(skyQuestion)
	if len(windows) != 1 || windows[0].Len() != len(q)+pairOverhead {
		t.Fatalf("expected one structural-only window, got %+v", windows)
	}
	if got := contextTokens(windows[0], len(q)); len(got) != 0 {
		t.Fatalf("expected no context tokens, got %v", got)
	}
}

func TestWindowsCoverLongContext(t *testing.T) {
	t.Parallel()

	tok := newSkyTokenizer(t)
	q, _ := tok.EncodeOffsets(skyQuestion)
	cfg := WindowConfig{MaxLength: len(q) + pairOverhead + 8, Stride: 3}
	w, err := NewWindower(tok, cfg)
	if err != nil {
		t.Fatalf("new windower: %v", err)
	}

	context := strings.TrimSpace(strings.Repeat("The sky is blue. ", 3))
	c, _ := tok.EncodeOffsets(context)
	if len(c) != 15 {
		t.Fatalf("fixture expects 15 context tokens, got %d", len(c))
	}
	windows, err := w.Windows(skyQuestion, context)
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}

	covered := make(map[spans.Offset]bool)
	var chunks [][]spans.Offset
	for i, win := range windows {
		if win.Len() != cfg.MaxLength {
			t.Fatalf("window %d: expected padded length %d, got %d", i, cfg.MaxLength, win.Len())
		}
		var chunk []spans.Offset
		for _, pos := range contextTokens(win, len(q)) {
			chunk = append(chunk, win.Offsets[pos])
			covered[win.Offsets[pos]] = true
		}
		chunks = append(chunks, chunk)
	}
	for _, tk := range c {
		if !covered[tk.Offset] {
			t.Fatalf("context token %v is in no window", tk.Offset)
		}
	}
	for i := 0; i+1 < len(chunks); i++ {
		prev, next := chunks[i], chunks[i+1]
		for j := 0; j < cfg.Stride; j++ {
			if prev[len(prev)-cfg.Stride+j] != next[j] {
				t.Fatalf("windows %d and %d do not overlap by %d tokens", i, i+1, cfg.Stride)
			}
		}
	}

	last := windows[len(windows)-1]
	if last.AttentionMask[last.Len()-1] != 0 || last.SpecialMask[last.Len()-1] != 1 || last.InputIDs[last.Len()-1] != 1 {
		t.Fatalf("short final window must be padded with <pad>")
	}
}

func TestWindowsFeedSpanDecoding(t *testing.T) {
	t.Parallel()

	tok := newSkyTokenizer(t)
	q, _ := tok.EncodeOffsets(skyQuestion)
	w, err := NewWindower(tok, WindowConfig{MaxLength: len(q) + pairOverhead + 8, Stride: 3})
	if err != nil {
		t.Fatalf("new windower: %v", err)
	}
	context := "The sky is blue. The grass is green and the sun is bright."
	windows, err := w.Windows(skyQuestion, context)
	if err != nil {
		t.Fatalf("windows: %v", err)
	}

	lgs := make([]spans.Logits, len(windows))
	for i, win := range windows {
		lg := spans.Logits{Start: make([]float32, win.Len()), End: make([]float32, win.Len())}
		for p, off := range win.Offsets {
			if off == (spans.Offset{Start: 11, End: 15}) {
				lg.Start[p], lg.End[p] = 10, 10
			}
		}
		lgs[i] = lg
	}
	got, err := spans.Decode(context, windows, lgs, spans.DefaultOptions())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Text != "blue" || got[0].Start != 11 || got[0].End != 15 {
		t.Fatalf("expected blue at [11,15), got %+v", got)
	}
}

func TestWindowsQuestionTooLong(t *testing.T) {
	t.Parallel()

	tok := newSkyTokenizer(t)
	q, _ := tok.EncodeOffsets(skyQuestion)

	w, err := NewWindower(tok, WindowConfig{MaxLength: len(q) + pairOverhead, Stride: 0})
	if err != nil {
		t.Fatalf("new windower: %v", err)
	}
	if _, err := w.Windows(skyQuestion, "The sky is blue."); !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("expected ErrQuestionTooLong, got %v", err)
	}

	// Room for two context tokens but a stride of five.
	w, err = NewWindower(tok, WindowConfig{MaxLength: len(q) + pairOverhead + 2, Stride: 5})
	if err != nil {
		t.Fatalf("new windower: %v", err)
	}
	if _, err := w.Windows(skyQuestion, "The sky is blue. The sky is blue."); !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("expected ErrQuestionTooLong for stride, got %v", err)
	}
	// The same settings are fine while the context fits one window.
	if _, err := w.Windows(skyQuestion, "The"); err != nil {
		t.Fatalf("single window context: %v", err)
	}
}

func TestWindowConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cfg WindowConfig
		ok  bool
	}{
		{DefaultWindowConfig(), true},
		{WindowConfig{MaxLength: 5, Stride: 0}, true},
		{WindowConfig{MaxLength: 4, Stride: 0}, false},
		{WindowConfig{MaxLength: 64, Stride: -1}, false},
		{WindowConfig{MaxLength: 64, Stride: 60}, false},
		{WindowConfig{MaxLength: 64, Stride: 59}, true},
	}
	for _, tc := range cases {
		err := tc.cfg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%+v: unexpected error %v", tc.cfg, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidWindowConfig) {
			t.Errorf("%+v: expected ErrInvalidWindowConfig, got %v", tc.cfg, err)
		}
	}
}

type missingPadTokenizer struct{ Tokenizer }

func (missingPadTokenizer) Specials() SpecialTokens {
	return SpecialTokens{CLS: "<s>", SEP: "</s>", PAD: "[NOPE]"}
}

func TestNewWindowerRequiresSpecialIDs(t *testing.T) {
	t.Parallel()

	tok := missingPadTokenizer{Tokenizer: newSkyTokenizer(t)}
	if _, err := NewWindower(tok, DefaultWindowConfig()); err == nil {
		t.Fatalf("expected error for a pad token missing from the vocabulary")
	}
}

func TestWindowsMarkQuotedSpecialTokens(t *testing.T) {
	t.Parallel()

	tok, w := newSkyWindower(t, DefaultWindowConfig())
	context := "The sky</s> is blue."
	windows, err := w.Windows(skyQuestion, context)
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	q, _ := tok.EncodeOffsets(skyQuestion)
	win := windows[0]
	answerable := spans.AnswerableMask(win, len(context))

	quoted := -1
	for i := len(q) + 3; i < win.Len(); i++ {
		if win.Offsets[i] == (spans.Offset{Start: 7, End: 11}) {
			quoted = i
		}
	}
	if quoted < 0 {
		t.Fatalf("quoted </s> not found in window offsets %v", win.Offsets)
	}
	if win.InputIDs[quoted] != 2 || win.SpecialMask[quoted] != 1 || answerable[quoted] {
		t.Fatalf("quoted </s> must be special and never answerable")
	}

	lg := spans.Logits{Start: make([]float32, win.Len()), End: make([]float32, win.Len())}
	lg.Start[quoted], lg.End[quoted] = 20, 20
	got, err := spans.Decode(context, windows, []spans.Logits{lg}, spans.Options{TopK: 50, MaxAnswerLength: 1})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, c := range got {
		if c.Text == "</s>" {
			t.Fatalf("a quoted special token was offered as an answer: %+v", c)
		}
	}
}
