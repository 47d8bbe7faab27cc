package scorer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/samcharles93/extractqa/internal/spans"
)

// TokenDecoder turns token ids back into text.
type TokenDecoder interface {
	Decode(ids []int) (string, error)
}

const (
	proximityWeight = 4
	matchPenalty    = -4
	stopPenalty     = -2
	punctPenalty    = -4
	// noMatchBonus is added to the anchor when no question word occurs in
	// the window.
	noMatchBonus = 4
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {},
	"in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "whom": {}, "why": {},
	"with": {},
}

// Lexical is a model-free scorer. Context tokens close to words from the
// question score high, the question words themselves and stop words score
// low. It is deterministic, which makes it useful for tests, demos and as a
// fallback when no model server is configured.
type Lexical struct {
	Tok TokenDecoder
	// NoAnswerBias is the anchor logit. Raising it makes "no answer" win
	// more often.
	NoAnswerBias float32
}

func NewLexical(tok TokenDecoder, noAnswerBias float32) *Lexical {
	return &Lexical{Tok: tok, NoAnswerBias: noAnswerBias}
}

func (l *Lexical) Score(ctx context.Context, windows []spans.Window) ([]spans.Logits, error) {
	out := make([]spans.Logits, len(windows))
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lg, err := l.scoreWindow(w)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", i, err)
		}
		out[i] = lg
	}
	return out, nil
}

func (l *Lexical) scoreWindow(w spans.Window) (spans.Logits, error) {
	n := w.Len()
	lg := spans.Logits{Start: make([]float32, n), End: make([]float32, n)}
	words := make([]string, n)
	for i := 1; i < n; i++ {
		if w.SpecialMask[i] == 1 || w.AttentionMask[i] == 0 {
			continue
		}
		text, err := l.Tok.Decode([]int{w.InputIDs[i]})
		if err != nil {
			return spans.Logits{}, err
		}
		words[i] = normalizeWord(text)
	}

	question, ctxPos := segments(w)
	asked := make(map[string]struct{}, len(question))
	for _, p := range question {
		if word := words[p]; word != "" {
			if _, stop := stopWords[word]; !stop {
				asked[word] = struct{}{}
			}
		}
	}

	var matches []int
	for _, p := range ctxPos {
		if _, ok := asked[words[p]]; ok {
			matches = append(matches, p)
		}
	}

	for _, p := range ctxPos {
		var v float32
		word := words[p]
		_, isMatch := asked[word]
		_, isStop := stopWords[word]
		switch {
		case word == "":
			v = punctPenalty
		case isMatch:
			v = matchPenalty
		default:
			for _, m := range matches {
				v += proximityWeight / float32(1+abs(p-m))
			}
			if isStop {
				v += stopPenalty
			}
		}
		lg.Start[p], lg.End[p] = v, v
	}

	anchor := l.NoAnswerBias
	if len(matches) == 0 {
		anchor += noMatchBonus
	}
	lg.Start[0], lg.End[0] = anchor, anchor
	return lg, nil
}

// segments splits w into question positions (after the anchor, up to the
// first separator) and context positions (every plain token after the
// separators). Special tokens quoted inside the context are skipped.
func segments(w spans.Window) (question, context []int) {
	n := w.Len()
	i := 1
	for ; i < n && w.SpecialMask[i] == 0; i++ {
		question = append(question, i)
	}
	for ; i < n && w.SpecialMask[i] == 1; i++ {
	}
	for ; i < n; i++ {
		if w.SpecialMask[i] == 0 && w.AttentionMask[i] == 1 {
			context = append(context, i)
		}
	}
	return question, context
}

func normalizeWord(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToLower(s)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
