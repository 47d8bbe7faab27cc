package spans

import (
	"errors"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

var (
	// ErrInvalidOptions reports decoding options outside their valid range.
	// It is a request validation failure, not a server fault.
	ErrInvalidOptions = errors.New("invalid decoding options")
	// ErrMalformedWindow reports window metadata or logits whose shapes do
	// not line up. It means a collaborator broke its contract.
	ErrMalformedWindow = errors.New("malformed window")
)

// Offset is a half-open byte range [Start, End) in the context string.
// Tokens outside the context (question, special, padding) carry the zero
// Offset.
type Offset struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Empty reports whether the range covers no bytes.
func (o Offset) Empty() bool {
	return o.End <= o.Start
}

// Window is one fixed-length slice of the tokenized (question, context)
// pair. Position 0 is the no-answer anchor and is always special.
type Window struct {
	InputIDs      []int    `json:"input_ids"`
	AttentionMask Mask     `json:"attention_mask"`
	SpecialMask   Mask     `json:"special_tokens_mask"`
	Offsets       []Offset `json:"offsets"`
}

// Mask is a 0/1 vector. It encodes as a JSON array of numbers, the way
// tokenizers emit masks, rather than as base64 bytes.
type Mask []uint8

func (m Mask) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	buf := make([]byte, 0, 2*len(m)+2)
	buf = append(buf, '[')
	for i, v := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(v), 10)
	}
	return append(buf, ']'), nil
}

func (m *Mask) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = nil
		return nil
	}
	var vals []int
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	out := make(Mask, len(vals))
	for i, v := range vals {
		if v != 0 && v != 1 {
			return fmt.Errorf("mask value %d at %d is not 0 or 1", v, i)
		}
		out[i] = uint8(v)
	}
	*m = out
	return nil
}

// Len returns the number of token positions in the window.
func (w Window) Len() int {
	return len(w.InputIDs)
}

func (w Window) validate() error {
	n := w.Len()
	if n == 0 {
		return fmt.Errorf("%w: window has no positions", ErrMalformedWindow)
	}
	if len(w.AttentionMask) != n || len(w.SpecialMask) != n || len(w.Offsets) != n {
		return fmt.Errorf("%w: %d ids, %d attention, %d special, %d offsets",
			ErrMalformedWindow, n, len(w.AttentionMask), len(w.SpecialMask), len(w.Offsets))
	}
	return nil
}

// Logits holds the raw, unnormalised scores a model assigns to every
// position of one window.
type Logits struct {
	Start []float32 `json:"start_logits"`
	End   []float32 `json:"end_logits"`
}

// Candidate is one ranked answer. Start and End are character (rune)
// offsets into the context, so context[Start:End] on a rune slice is Text;
// the no-answer candidate has Start=End=0 and an empty Text.
type Candidate struct {
	Score float64 `json:"score"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Text  string  `json:"answer"`

	// Window is the index of the window the span came from, or -1 for the
	// no-answer candidate.
	Window     int `json:"-"`
	StartToken int `json:"-"`
	EndToken   int `json:"-"`
}

// Impossible reports whether c is the synthetic no-answer candidate.
func (c Candidate) Impossible() bool {
	return c.Window < 0
}

// Options control decoding for one request.
type Options struct {
	// AllowImpossible lets the no-answer candidate compete with spans.
	AllowImpossible bool
	// TopK is the maximum number of candidates returned.
	TopK int
	// MaxAnswerLength bounds a span to at most this many tokens.
	MaxAnswerLength int
}

// DefaultOptions returns the service defaults.
func DefaultOptions() Options {
	return Options{
		AllowImpossible: true,
		TopK:            1,
		MaxAnswerLength: 15,
	}
}

// Validate rejects options that would make decoding meaningless.
func (o Options) Validate() error {
	if o.TopK < 1 {
		return fmt.Errorf("%w: top_k must be at least 1, got %d", ErrInvalidOptions, o.TopK)
	}
	if o.MaxAnswerLength < 1 {
		return fmt.Errorf("%w: max_ans_len must be at least 1, got %d", ErrInvalidOptions, o.MaxAnswerLength)
	}
	return nil
}
