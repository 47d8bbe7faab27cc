package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/spans"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

func TestNormalizeAnswer(t *testing.T) {
	cases := map[string]string{
		"The Blue Sky.":        "blue sky",
		"  an   apple, a day ": "apple day",
		"Theory":               "theory",
		"$1,000!":              "1000",
		"":                     "",
	}
	for in, want := range cases {
		if got := normalizeAnswer(in); got != want {
			t.Errorf("normalizeAnswer(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenF1(t *testing.T) {
	cases := []struct {
		pred, gold string
		want       float64
	}{
		{"blue", "blue", 1},
		{"the blue sky", "blue", 2 * 0.5 * 1 / 1.5},
		{"green", "blue", 0},
		{"", "", 1},
		{"", "blue", 0},
		{"blue", "", 0},
		{"blue blue", "blue", 2 * 0.5 * 1 / 1.5},
	}
	for _, tc := range cases {
		if got := tokenF1(tc.pred, tc.gold); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("tokenF1(%q, %q) = %v, want %v", tc.pred, tc.gold, got, tc.want)
		}
	}
}

func TestBestScoresTakesMaxOverGolds(t *testing.T) {
	em, f1 := bestScores("Denver Broncos", []string{"Broncos", "the Denver Broncos"})
	if em != 1 || f1 != 1 {
		t.Fatalf("expected a perfect match against the second gold, got em=%v f1=%v", em, f1)
	}
	em, f1 = bestScores("", nil)
	if em != 1 || f1 != 1 {
		t.Fatalf("an empty prediction must match an unanswerable question, got em=%v f1=%v", em, f1)
	}
}

// scriptedEngine answers from a question to answer map; "" is no answer.
type scriptedEngine struct {
	answers map[string]string
	reject  map[string]bool
	batches int
}

func (e *scriptedEngine) answerOne(q inference.Query) ([]spans.Candidate, error) {
	if e.reject[q.Question] {
		return nil, fmt.Errorf("question %q: %w", q.Question, tokenizer.ErrQuestionTooLong)
	}
	text, ok := e.answers[q.Question]
	if !ok || text == "" {
		return []spans.Candidate{{Score: 0.9, Window: -1}}, nil
	}
	start := strings.Index(q.Context, text)
	return []spans.Candidate{{Score: 0.8, Start: start, End: start + len(text), Text: text}}, nil
}

func (e *scriptedEngine) Answer(ctx context.Context, q inference.Query, opts spans.Options) ([]spans.Candidate, error) {
	return e.answerOne(q)
}

func (e *scriptedEngine) AnswerBatch(ctx context.Context, qs []inference.Query, opts spans.Options) ([][]spans.Candidate, error) {
	e.batches++
	out := make([][]spans.Candidate, len(qs))
	for i, q := range qs {
		cands, err := e.answerOne(q)
		if err != nil {
			return nil, err
		}
		out[i] = cands
	}
	return out, nil
}

func (e *scriptedEngine) Close() error { return nil }

const squadFixture = `{
  "version": "v2.0",
  "data": [{
    "title": "Sky",
    "paragraphs": [{
      "context": "The sky is blue. Grass is green.",
      "qas": [
        {"id": "q1", "question": "What color is the sky?", "answers": [{"text": "blue", "answer_start": 11}], "is_impossible": false},
        {"id": "q2", "question": "What color is grass?", "answers": [{"text": "green", "answer_start": 26}], "is_impossible": false},
        {"id": "q3", "question": "What color is the sea?", "answers": [], "is_impossible": true}
      ]
    }, {
      "context": "Paris is the capital of France.",
      "qas": [
        {"id": "q4", "question": "What is the capital of France?", "answers": [{"text": "Paris", "answer_start": 0}], "is_impossible": false}
      ]
    }]
  }]
}`

func loadFixture(t *testing.T) squadFile {
	t.Helper()
	set, err := readSquad("-", strings.NewReader(squadFixture))
	if err != nil {
		t.Fatalf("readSquad: %v", err)
	}
	return set
}

func TestRunEval(t *testing.T) {
	engine := &scriptedEngine{answers: map[string]string{
		"What color is the sky?":         "blue",
		"What color is grass?":           "Grass is green",
		"What is the capital of France?": "",
	}}
	report, err := runEval(context.Background(), engine, loadFixture(t), spans.DefaultOptions(), 0)
	if err != nil {
		t.Fatalf("runEval: %v", err)
	}
	if engine.batches != 2 {
		t.Fatalf("expected one batch per paragraph, got %d", engine.batches)
	}
	if report.Questions != 4 || report.HasAnswer != 3 || report.NoAnswer != 1 || report.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	// q1 and q3 are exact; q2 has F1 1/2; q4 scores 0.
	if math.Abs(report.ExactMatch-50) > 1e-9 {
		t.Fatalf("expected EM 50, got %v", report.ExactMatch)
	}
	wantF1 := 100 * (1 + 0.5 + 1 + 0) / 4
	if math.Abs(report.F1-wantF1) > 1e-9 {
		t.Fatalf("expected F1 %v, got %v", wantF1, report.F1)
	}
	if report.NoAnswerAcc != 100 {
		t.Fatalf("expected no-answer accuracy 100, got %v", report.NoAnswerAcc)
	}
}

func TestRunEvalLimit(t *testing.T) {
	engine := &scriptedEngine{answers: map[string]string{"What color is the sky?": "blue"}}
	report, err := runEval(context.Background(), engine, loadFixture(t), spans.DefaultOptions(), 2)
	if err != nil {
		t.Fatalf("runEval: %v", err)
	}
	if report.Questions != 2 || engine.batches != 1 {
		t.Fatalf("expected 2 questions in 1 batch, got %d in %d", report.Questions, engine.batches)
	}
}

func TestRunEvalSkipsRejectedQuestions(t *testing.T) {
	engine := &scriptedEngine{
		answers: map[string]string{"What color is the sky?": "blue"},
		reject:  map[string]bool{"What color is grass?": true},
	}
	report, err := runEval(context.Background(), engine, loadFixture(t), spans.DefaultOptions(), 0)
	if err != nil {
		t.Fatalf("runEval: %v", err)
	}
	if report.Failed != 1 || report.Questions != 4 {
		t.Fatalf("expected 1 failed of 4, got %+v", report)
	}
}

type failingEngine struct{ scriptedEngine }

func (failingEngine) AnswerBatch(context.Context, []inference.Query, spans.Options) ([][]spans.Candidate, error) {
	return nil, spans.ErrMalformedWindow
}

func TestRunEvalStopsOnServerErrors(t *testing.T) {
	_, err := runEval(context.Background(), &failingEngine{}, loadFixture(t), spans.DefaultOptions(), 0)
	if !errors.Is(err, spans.ErrMalformedWindow) {
		t.Fatalf("expected the engine error, got %v", err)
	}
}

func TestEvalReportJSON(t *testing.T) {
	var r evalReport
	r.add("blue", []string{"blue"}, false)
	r.add("", nil, true)
	r.finish()
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["exact_match"] != 100.0 || got["no_answer_accuracy"] != 100.0 {
		t.Fatalf("unexpected report %s", raw)
	}
	if _, ok := got["sumEM"]; ok {
		t.Fatalf("running sums must not be serialised: %s", raw)
	}
}
