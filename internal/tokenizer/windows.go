package tokenizer

import (
	"errors"
	"fmt"

	"github.com/samcharles93/extractqa/internal/spans"
)

var (
	// ErrQuestionTooLong means the question leaves no room for context
	// tokens, or for the configured overlap, inside one window.
	ErrQuestionTooLong = errors.New("question too long")
	// ErrInvalidWindowConfig reports a window configuration that can never
	// produce a window.
	ErrInvalidWindowConfig = errors.New("invalid window config")
)

// pairOverhead is the number of structural tokens in
// <s> question </s></s> context </s>.
const pairOverhead = 4

// WindowConfig controls how long contexts are split.
type WindowConfig struct {
	// MaxLength is the number of positions in a window, structural tokens
	// included.
	MaxLength int
	// Stride is the number of context tokens shared by consecutive windows.
	Stride int
}

// DefaultWindowConfig matches the settings SQuAD2 RoBERTa models were
// trained with.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{MaxLength: 386, Stride: 128}
}

func (c WindowConfig) Validate() error {
	if c.MaxLength <= pairOverhead {
		return fmt.Errorf("%w: max length must exceed %d, got %d", ErrInvalidWindowConfig, pairOverhead, c.MaxLength)
	}
	if c.Stride < 0 {
		return fmt.Errorf("%w: stride must not be negative, got %d", ErrInvalidWindowConfig, c.Stride)
	}
	if c.Stride >= c.MaxLength-pairOverhead {
		return fmt.Errorf("%w: stride %d leaves no new context per window of %d", ErrInvalidWindowConfig, c.Stride, c.MaxLength)
	}
	return nil
}

// Windower turns a (question, context) pair into overlapping windows.
type Windower struct {
	tok   Tokenizer
	cfg   WindowConfig
	clsID int
	sepID int
	padID int
}

func NewWindower(tok Tokenizer, cfg WindowConfig) (*Windower, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sp := tok.Specials()
	w := &Windower{tok: tok, cfg: cfg}
	for _, s := range []struct {
		name string
		dst  *int
	}{{sp.CLS, &w.clsID}, {sp.SEP, &w.sepID}, {sp.PAD, &w.padID}} {
		id, ok := tok.TokenID(s.name)
		if !ok {
			return nil, fmt.Errorf("special token %q not in vocabulary", s.name)
		}
		*s.dst = id
	}
	return w, nil
}

func (w *Windower) Config() WindowConfig { return w.cfg }

// Windows lays out <s> question </s></s> chunk </s> for consecutive chunks
// of the context, each overlapping the previous one by Stride tokens, and
// pads every window to the longest one. Only context tokens carry offsets;
// structural tokens, padding and special tokens quoted in the context are
// marked special.
func (w *Windower) Windows(question, context string) ([]spans.Window, error) {
	q, err := w.tok.EncodeOffsets(question)
	if err != nil {
		return nil, fmt.Errorf("encode question: %w", err)
	}
	c, err := w.tok.EncodeOffsets(context)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	capacity := w.cfg.MaxLength - len(q) - pairOverhead
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d question tokens do not fit a window of %d", ErrQuestionTooLong, len(q), w.cfg.MaxLength)
	}
	step := capacity - w.cfg.Stride
	if step < 1 && len(c) > capacity {
		return nil, fmt.Errorf("%w: %d question tokens leave no room for a stride of %d", ErrQuestionTooLong, len(q), w.cfg.Stride)
	}

	var chunks [][]Token
	for start := 0; ; start += step {
		end := min(start+capacity, len(c))
		chunks = append(chunks, c[start:end])
		if end == len(c) {
			break
		}
	}

	width := 0
	for _, chunk := range chunks {
		width = max(width, len(q)+len(chunk)+pairOverhead)
	}
	windows := make([]spans.Window, 0, len(chunks))
	for _, chunk := range chunks {
		windows = append(windows, w.layout(q, chunk, width))
	}
	return windows, nil
}

func (w *Windower) layout(q, chunk []Token, width int) spans.Window {
	win := spans.Window{
		InputIDs:      make([]int, 0, width),
		AttentionMask: make([]uint8, 0, width),
		SpecialMask:   make([]uint8, 0, width),
		Offsets:       make([]spans.Offset, 0, width),
	}
	push := func(id int, attn, special uint8, off spans.Offset) {
		win.InputIDs = append(win.InputIDs, id)
		win.AttentionMask = append(win.AttentionMask, attn)
		win.SpecialMask = append(win.SpecialMask, special)
		win.Offsets = append(win.Offsets, off)
	}

	push(w.clsID, 1, 1, spans.Offset{})
	for _, tok := range q {
		push(tok.ID, 1, 0, spans.Offset{})
	}
	push(w.sepID, 1, 1, spans.Offset{})
	push(w.sepID, 1, 1, spans.Offset{})
	for _, tok := range chunk {
		var special uint8
		if tok.Special {
			special = 1
		}
		push(tok.ID, 1, special, tok.Offset)
	}
	push(w.sepID, 1, 1, spans.Offset{})
	for len(win.InputIDs) < width {
		push(w.padID, 0, 1, spans.Offset{})
	}
	return win
}
