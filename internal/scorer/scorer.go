// Package scorer turns tokenized windows into start and end logits.
package scorer

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/extractqa/internal/spans"
)

// ErrShapeMismatch means a scorer produced a different number of logit
// vectors than windows, or vectors of the wrong length.
var ErrShapeMismatch = errors.New("logits shape mismatch")

// Scorer assigns a start and an end logit to every position of every window.
// The returned slice is parallel to windows.
type Scorer interface {
	Score(ctx context.Context, windows []spans.Window) ([]spans.Logits, error)
}

// Func adapts an ordinary function to Scorer.
type Func func(ctx context.Context, windows []spans.Window) ([]spans.Logits, error)

func (f Func) Score(ctx context.Context, windows []spans.Window) ([]spans.Logits, error) {
	return f(ctx, windows)
}

func checkShape(windows []spans.Window, out []spans.Logits) error {
	if len(out) != len(windows) {
		return fmt.Errorf("%w: %d windows, %d logit sets", ErrShapeMismatch, len(windows), len(out))
	}
	for i, w := range windows {
		if len(out[i].Start) != w.Len() || len(out[i].End) != w.Len() {
			return fmt.Errorf("%w: window %d has %d positions, got %d start and %d end logits",
				ErrShapeMismatch, i, w.Len(), len(out[i].Start), len(out[i].End))
		}
	}
	return nil
}
