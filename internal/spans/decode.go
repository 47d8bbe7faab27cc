package spans

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/extractqa/internal/logits"
)

// WindowResult is the decoded output of a single window.
type WindowResult struct {
	// Candidates are in emission order: start token ascending, then end
	// token ascending.
	Candidates []Candidate
	// Impossible is AnchorStart * AnchorEnd.
	Impossible float64
	// AnchorStart and AnchorEnd are the probabilities the anchor held
	// before it was removed from span search.
	AnchorStart float64
	AnchorEnd   float64
	// StartProbs and EndProbs are the normalised distributions with the
	// anchor already zeroed.
	StartProbs []float64
	EndProbs   []float64
}

// DecodeWindow scores every span of at most opts.MaxAnswerLength tokens in
// window w. index is recorded on each candidate so that results from
// several windows can be merged deterministically.
func DecodeWindow(index int, w Window, lg Logits, text string, opts Options) (WindowResult, error) {
	return decodeWindow(index, w, lg, text, newCharIndex(text), opts)
}

func decodeWindow(index int, w Window, lg Logits, text string, chars charIndex, opts Options) (WindowResult, error) {
	if err := w.validate(); err != nil {
		return WindowResult{}, fmt.Errorf("window %d: %w", index, err)
	}
	n := w.Len()
	if len(lg.Start) != n || len(lg.End) != n {
		return WindowResult{}, fmt.Errorf("window %d: %w: %d positions, %d start logits, %d end logits",
			index, ErrMalformedWindow, n, len(lg.Start), len(lg.End))
	}

	support := softmaxSupport(AnswerableMask(w, len(text)), opts.AllowImpossible)
	starts, ok := logits.MaskedSoftmax(lg.Start, support)
	if !ok {
		return WindowResult{}, fmt.Errorf("window %d: %w: start logits are not finite", index, ErrMalformedWindow)
	}
	ends, ok := logits.MaskedSoftmax(lg.End, support)
	if !ok {
		return WindowResult{}, fmt.Errorf("window %d: %w: end logits are not finite", index, ErrMalformedWindow)
	}

	res := WindowResult{
		Impossible:  starts[0] * ends[0],
		AnchorStart: starts[0],
		AnchorEnd:   ends[0],
		StartProbs:  starts,
		EndProbs:    ends,
	}
	starts[0], ends[0] = 0, 0

	for s, ps := range starts {
		if ps == 0 {
			continue
		}
		last := min(s+opts.MaxAnswerLength, n)
		for e := s; e < last; e++ {
			pe := ends[e]
			if pe == 0 {
				continue
			}
			begin, end := w.Offsets[s].Start, w.Offsets[e].End
			if end < begin {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{
				Score:      ps * pe,
				Start:      chars.at(begin),
				End:        chars.at(end),
				Text:       text[begin:end],
				Window:     index,
				StartToken: s,
				EndToken:   e,
			})
		}
	}
	return res, nil
}

// Decoder merges the spans of all windows of one question.
// The zero value decodes windows sequentially.
type Decoder struct {
	// Concurrency is the number of windows decoded in parallel.
	// Values below 2 decode sequentially.
	Concurrency int
}

// Decode ranks the answers for text given its windows and the matching
// logits. Candidates with equal scores keep emission order: window index,
// then start token, then end token. The no-answer candidate, when allowed,
// scores the smallest per-window no-answer probability.
func (d Decoder) Decode(ctx context.Context, text string, windows []Window, lgs []Logits, opts Options) ([]Candidate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no windows", ErrMalformedWindow)
	}
	if len(lgs) != len(windows) {
		return nil, fmt.Errorf("%w: %d windows but %d logit pairs", ErrMalformedWindow, len(windows), len(lgs))
	}

	chars := newCharIndex(text)
	results := make([]WindowResult, len(windows))
	if d.Concurrency < 2 || len(windows) == 1 {
		for i := range windows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r, err := decodeWindow(i, windows[i], lgs[i], text, chars, opts)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.Concurrency)
		for i := range windows {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := decodeWindow(i, windows[i], lgs[i], text, chars, opts)
				if err != nil {
					return err
				}
				results[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	return merge(results, opts), nil
}

// Decode is Decoder{}.Decode without cancellation.
func Decode(text string, windows []Window, lgs []Logits, opts Options) ([]Candidate, error) {
	return Decoder{}.Decode(context.Background(), text, windows, lgs, opts)
}

func merge(results []WindowResult, opts Options) []Candidate {
	total := 0
	for _, r := range results {
		total += len(r.Candidates)
	}
	all := make([]Candidate, 0, total+1)
	impossible := 1.0
	for _, r := range results {
		all = append(all, r.Candidates...)
		impossible = min(impossible, r.Impossible)
	}
	if opts.AllowImpossible {
		all = append(all, Candidate{Score: impossible, Window: -1})
	}

	slices.SortStableFunc(all, func(a, b Candidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(all) > opts.TopK {
		all = all[:opts.TopK]
	}
	return all
}

// charIndex maps byte offsets of a text to character (rune) offsets. It is
// nil for ASCII text, where the two coincide.
type charIndex []int

func newCharIndex(text string) charIndex {
	ascii := true
	for i := 0; i < len(text); i++ {
		if text[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return nil
	}
	idx := make(charIndex, len(text)+1)
	n := 0
	for i := range text {
		idx[i] = n
		n++
	}
	idx[len(text)] = n
	// Bytes inside a rune map to the rune that holds them.
	for i := 1; i < len(text); i++ {
		if !utf8.RuneStart(text[i]) {
			idx[i] = idx[i-1]
		}
	}
	return idx
}

func (c charIndex) at(b int) int {
	if c == nil {
		return b
	}
	return c[b]
}
