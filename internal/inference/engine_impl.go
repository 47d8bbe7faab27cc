package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/scorer"
	"github.com/samcharles93/extractqa/internal/spans"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

// EngineImpl answers questions by windowing, scoring and decoding. It keeps
// no per-request state and is safe for concurrent use.
type EngineImpl struct {
	producer WindowProducer
	scorer   scorer.Scorer
	decoder  spans.Decoder
	// batchLimit bounds how many queries of one batch run at once.
	batchLimit int
}

type Option func(*EngineImpl)

// WithWindowConcurrency decodes up to n windows of one query in parallel.
func WithWindowConcurrency(n int) Option {
	return func(e *EngineImpl) { e.decoder.Concurrency = n }
}

// WithBatchConcurrency answers up to n queries of one batch in parallel.
func WithBatchConcurrency(n int) Option {
	return func(e *EngineImpl) {
		if n > 0 {
			e.batchLimit = n
		}
	}
}

func New(producer WindowProducer, sc scorer.Scorer, opts ...Option) *EngineImpl {
	e := &EngineImpl{producer: producer, scorer: sc, batchLimit: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	if closer, ok := e.scorer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Answer returns the ranked candidates for one query. Options are checked
// before any windowing or scoring happens.
func (e *EngineImpl) Answer(ctx context.Context, q Query, opts spans.Options) ([]spans.Candidate, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return e.answer(ctx, q, opts)
}

// AnswerBatch answers every query with the same options. Results are in
// input order. The first failing query aborts the batch.
func (e *EngineImpl) AnswerBatch(ctx context.Context, qs []Query, opts spans.Options) ([][]spans.Candidate, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	out := make([][]spans.Candidate, len(qs))
	if e.batchLimit <= 1 {
		for i, q := range qs {
			res, err := e.answer(ctx, q, opts)
			if err != nil {
				return nil, fmt.Errorf("question %d: %w", i, err)
			}
			out[i] = res
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchLimit)
	for i, q := range qs {
		g.Go(func() error {
			res, err := e.answer(gctx, q, opts)
			if err != nil {
				return fmt.Errorf("question %d: %w", i, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *EngineImpl) answer(ctx context.Context, q Query, opts spans.Options) ([]spans.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx)
	start := time.Now()

	windows, err := safeWindows(e.producer, q)
	if err != nil {
		return nil, fmt.Errorf("build windows: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lgs, err := safeScore(ctx, e.scorer, windows)
	if err != nil {
		return nil, fmt.Errorf("score windows: %w", err)
	}

	cands, err := e.decoder.Decode(ctx, q.Context, windows, lgs, opts)
	if err != nil {
		return nil, err
	}
	log.Debug("answered question",
		"windows", len(windows),
		"candidates", len(cands),
		"duration", time.Since(start),
	)
	return cands, nil
}

func safeWindows(p WindowProducer, q Query) (windows []spans.Window, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Windows: %v", rec)
		}
	}()
	return p.Windows(q.Question, q.Context)
}

func safeScore(ctx context.Context, sc scorer.Scorer, windows []spans.Window) (lgs []spans.Logits, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Score: %v", rec)
		}
	}()
	return sc.Score(ctx, windows)
}

// IsClientError reports whether err was caused by the request rather than
// by the engine or its collaborators.
func IsClientError(err error) bool {
	return errors.Is(err, spans.ErrInvalidOptions) || errors.Is(err, tokenizer.ErrQuestionTooLong)
}
