package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/samcharles93/extractqa/internal/scorer"
	"github.com/samcharles93/extractqa/internal/spans"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

const skyContext = "The sky is blue."

// skyWindow is <s> q q </s></s> The sky is blue . </s>.
func skyWindow() spans.Window {
	offsets := []spans.Offset{{}, {}, {}, {}, {}, {Start: 0, End: 3}, {Start: 4, End: 7}, {Start: 8, End: 10}, {Start: 11, End: 15}, {Start: 15, End: 16}, {}}
	special := []uint8{1, 0, 0, 1, 1, 0, 0, 0, 0, 0, 1}
	w := spans.Window{
		InputIDs:      make([]int, len(offsets)),
		AttentionMask: make([]uint8, len(offsets)),
		SpecialMask:   special,
		Offsets:       offsets,
	}
	for i := range offsets {
		w.InputIDs[i] = i
		w.AttentionMask[i] = 1
	}
	return w
}

type fixedProducer struct {
	windows []spans.Window
	calls   atomic.Int32
}

func (p *fixedProducer) Windows(question, context string) ([]spans.Window, error) {
	p.calls.Add(1)
	return p.windows, nil
}

type countingScorer struct {
	calls atomic.Int32
	// peak is the logit placed on the token at position peak.
	peak int
}

func (s *countingScorer) Score(ctx context.Context, windows []spans.Window) ([]spans.Logits, error) {
	s.calls.Add(1)
	out := make([]spans.Logits, len(windows))
	for i, w := range windows {
		lg := spans.Logits{Start: make([]float32, w.Len()), End: make([]float32, w.Len())}
		if s.peak < w.Len() {
			lg.Start[s.peak], lg.End[s.peak] = 10, 10
		}
		out[i] = lg
	}
	return out, nil
}

func TestEngineAnswer(t *testing.T) {
	t.Parallel()

	sc := &countingScorer{peak: 8}
	e := New(&fixedProducer{windows: []spans.Window{skyWindow()}}, sc)
	got, err := e.Answer(context.Background(), Query{Question: "What color is the sky?", Context: skyContext}, spans.DefaultOptions())
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(got) != 1 || got[0].Text != "blue" || got[0].Start != 11 || got[0].End != 15 {
		t.Fatalf("expected blue, got %+v", got)
	}
	if sc.calls.Load() != 1 {
		t.Fatalf("expected one scorer call, got %d", sc.calls.Load())
	}
}

func TestEngineRejectsOptionsBeforeScoring(t *testing.T) {
	t.Parallel()

	producer := &fixedProducer{windows: []spans.Window{skyWindow()}}
	sc := &countingScorer{}
	e := New(producer, sc)

	_, err := e.Answer(context.Background(), Query{Context: skyContext}, spans.Options{AllowImpossible: true, TopK: 0, MaxAnswerLength: 15})
	if !errors.Is(err, spans.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
	_, err = e.AnswerBatch(context.Background(), []Query{{Context: skyContext}}, spans.Options{TopK: 1, MaxAnswerLength: 0})
	if !errors.Is(err, spans.ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions from batch, got %v", err)
	}
	if !IsClientError(err) {
		t.Fatalf("invalid options must be a client error")
	}
	if producer.calls.Load() != 0 || sc.calls.Load() != 0 {
		t.Fatalf("collaborators must not run on invalid options")
	}
}

type echoProducer struct{}

// Windows encodes the question into the first context token id so the
// scorer can tell queries apart.
func (echoProducer) Windows(question, context string) ([]spans.Window, error) {
	w := skyWindow()
	w.InputIDs[5] = len(question)
	return []spans.Window{w}, nil
}

func TestEngineAnswerBatchKeepsOrder(t *testing.T) {
	t.Parallel()

	// Peak position depends on the question length: 5 -> "The", 8 -> "blue".
	sc := scorer.Func(func(ctx context.Context, windows []spans.Window) ([]spans.Logits, error) {
		w := windows[0]
		lg := spans.Logits{Start: make([]float32, w.Len()), End: make([]float32, w.Len())}
		peak := 8
		if w.InputIDs[5] == 1 {
			peak = 5
		}
		lg.Start[peak], lg.End[peak] = 10, 10
		return []spans.Logits{lg}, nil
	})
	qs := []Query{
		{Question: "x", Context: skyContext},
		{Question: "xx", Context: skyContext},
		{Question: "x", Context: skyContext},
	}
	for _, limit := range []int{1, 3} {
		e := New(echoProducer{}, sc, WithBatchConcurrency(limit), WithWindowConcurrency(2))
		got, err := e.AnswerBatch(context.Background(), qs, spans.DefaultOptions())
		if err != nil {
			t.Fatalf("batch: %v", err)
		}
		want := []string{"The", "blue", "The"}
		if len(got) != len(want) {
			t.Fatalf("expected %d results, got %d", len(want), len(got))
		}
		for i := range want {
			if len(got[i]) != 1 || got[i][0].Text != want[i] {
				t.Fatalf("limit %d, question %d: expected %q, got %+v", limit, i, want[i], got[i])
			}
		}
	}
}

func TestEngineAnswerBatchEmpty(t *testing.T) {
	t.Parallel()

	e := New(&fixedProducer{}, &countingScorer{})
	got, err := e.AnswerBatch(context.Background(), nil, spans.DefaultOptions())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v %v", got, err)
	}
}

func TestEngineConvertsScorePanic(t *testing.T) {
	t.Parallel()

	sc := scorer.Func(func(context.Context, []spans.Window) ([]spans.Logits, error) {
		panic("score boom")
	})
	e := New(&fixedProducer{windows: []spans.Window{skyWindow()}}, sc)
	_, err := e.Answer(context.Background(), Query{Context: skyContext}, spans.DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "panic in Score") {
		t.Fatalf("expected converted panic, got %v", err)
	}
	if IsClientError(err) {
		t.Fatalf("a scorer panic is not a client error")
	}
}

type panicProducer struct{}

func (panicProducer) Windows(string, string) ([]spans.Window, error) { panic("windows boom") }

func TestEngineConvertsWindowsPanic(t *testing.T) {
	t.Parallel()

	e := New(panicProducer{}, &countingScorer{})
	_, err := e.Answer(context.Background(), Query{Context: skyContext}, spans.DefaultOptions())
	if err == nil || !strings.Contains(err.Error(), "panic in Windows") {
		t.Fatalf("expected converted panic, got %v", err)
	}
}

func TestEngineSurfacesMalformedLogits(t *testing.T) {
	t.Parallel()

	sc := scorer.Func(func(context.Context, []spans.Window) ([]spans.Logits, error) {
		return []spans.Logits{{Start: []float32{0}, End: []float32{0}}}, nil
	})
	e := New(&fixedProducer{windows: []spans.Window{skyWindow()}}, sc)
	_, err := e.Answer(context.Background(), Query{Context: skyContext}, spans.DefaultOptions())
	if !errors.Is(err, spans.ErrMalformedWindow) {
		t.Fatalf("expected ErrMalformedWindow, got %v", err)
	}
}

func TestEngineHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := &countingScorer{}
	e := New(&fixedProducer{windows: []spans.Window{skyWindow()}}, sc)
	if _, err := e.Answer(ctx, Query{Context: skyContext}, spans.DefaultOptions()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sc.calls.Load() != 0 {
		t.Fatalf("scorer must not run after cancellation")
	}
}

func TestIsClientErrorQuestionTooLong(t *testing.T) {
	t.Parallel()

	err := errors.Join(errors.New("build windows"), tokenizer.ErrQuestionTooLong)
	if !IsClientError(err) {
		t.Fatalf("question too long must be a client error")
	}
}

const tinyTokenizerJSON = `{
	"model": {"type": "BPE", "vocab": {"<s>": 0, "<pad>": 1, "</s>": 2, "<unk>": 3}, "merges": [], "unk_token": "<unk>"},
	"added_tokens": [
		{"id": 0, "content": "<s>", "special": true},
		{"id": 1, "content": "<pad>", "special": true},
		{"id": 2, "content": "</s>", "special": true},
		{"id": 3, "content": "<unk>", "special": true}
	]
}`

func TestLoaderLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(tinyTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}

	res, err := Loader{TokenizerJSONPath: path}.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.ScorerName != "lexical" {
		t.Fatalf("expected lexical scorer by default, got %s", res.ScorerName)
	}
	if res.Windower.Config() != tokenizer.DefaultWindowConfig() {
		t.Fatalf("expected default window config, got %+v", res.Windower.Config())
	}
	got, err := res.Engine.Answer(context.Background(), Query{Question: "why", Context: "because"}, spans.DefaultOptions())
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one candidate, got %d", len(got))
	}

	res, err = Loader{TokenizerJSONPath: path, ScorerURL: "http://127.0.0.1:9/score"}.Load()
	if err != nil {
		t.Fatalf("load remote: %v", err)
	}
	if res.ScorerName != "remote" {
		t.Fatalf("expected remote scorer, got %s", res.ScorerName)
	}
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()

	if _, err := (Loader{}).Load(); err == nil {
		t.Fatalf("expected missing path error")
	}
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	if err := os.WriteFile(path, []byte(tinyTokenizerJSON), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	_, err := Loader{TokenizerJSONPath: path, Window: tokenizer.WindowConfig{MaxLength: 8, Stride: 8}}.Load()
	if !errors.Is(err, tokenizer.ErrInvalidWindowConfig) {
		t.Fatalf("expected ErrInvalidWindowConfig, got %v", err)
	}
}
