package inference

import (
	"context"

	"github.com/samcharles93/extractqa/internal/spans"
)

// WindowProducer splits one (question, context) pair into model windows.
type WindowProducer interface {
	Windows(question, context string) ([]spans.Window, error)
}

// Query is one question asked against one context.
type Query struct {
	Question string
	Context  string
}

type Engine interface {
	Answer(ctx context.Context, q Query, opts spans.Options) ([]spans.Candidate, error)
	AnswerBatch(ctx context.Context, qs []Query, opts spans.Options) ([][]spans.Candidate, error)
	Close() error
}
