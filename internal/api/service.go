package api

import (
	"context"
	"fmt"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/spans"
)

// InferenceService validates requests and runs them through the engine.
type InferenceService struct {
	engine   inference.Engine
	defaults spans.Options
}

func NewInferenceService(engine inference.Engine) *InferenceService {
	return &InferenceService{engine: engine, defaults: spans.DefaultOptions()}
}

// SetDefaults changes the options used for fields a request leaves out.
func (s *InferenceService) SetDefaults(opts spans.Options) {
	s.defaults = opts
}

// Answer flattens the request into one query per question, in example order
// then question order, and returns one ranked list per query.
func (s *InferenceService) Answer(ctx context.Context, req *InferenceRequest) ([][]spans.Candidate, error) {
	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}
	queries, err := flatten(req.Data)
	if err != nil {
		return nil, err
	}
	return s.engine.AnswerBatch(ctx, queries, opts)
}

func (s *InferenceService) options(req *InferenceRequest) (spans.Options, error) {
	opts := s.defaults
	if req.Impossible != nil {
		opts.AllowImpossible = *req.Impossible
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.MaxAnsLen != nil {
		opts.MaxAnswerLength = *req.MaxAnsLen
	}
	if err := opts.Validate(); err != nil {
		return spans.Options{}, newInvalidRequest(err.Error())
	}
	return opts, nil
}

func flatten(data []Example) ([]inference.Query, error) {
	if len(data) == 0 {
		return nil, newInvalidRequest("data is required and must not be empty")
	}
	var queries []inference.Query
	for i, ex := range data {
		if len(ex.Questions) == 0 {
			return nil, newInvalidRequest(fmt.Sprintf("data[%d]: questions must not be empty", i))
		}
		for _, q := range ex.Questions {
			queries = append(queries, inference.Query{Question: q, Context: ex.Context})
		}
	}
	return queries, nil
}
