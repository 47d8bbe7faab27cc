package inference

import (
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/extractqa/internal/scorer"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

// Loader wires a tokenizer, a windower and a scorer into an engine.
type Loader struct {
	TokenizerJSONPath   string
	TokenizerConfigPath string
	Window              tokenizer.WindowConfig

	// ScorerURL selects the remote scorer. When empty the lexical scorer is
	// used.
	ScorerURL     string
	ScorerToken   string
	ScorerTimeout time.Duration
	NoAnswerBias  float32

	WindowConcurrency int
	BatchConcurrency  int
}

type LoadResult struct {
	Engine    *EngineImpl
	Tokenizer *tokenizer.HFTokenizer
	Windower  *tokenizer.Windower
	Scorer    scorer.Scorer
	// ScorerName is "remote" or "lexical".
	ScorerName string
}

func (l Loader) Load() (*LoadResult, error) {
	if strings.TrimSpace(l.TokenizerJSONPath) == "" {
		return nil, fmt.Errorf("tokenizer.json path is required")
	}
	tok, err := tokenizer.LoadHFTokenizer(l.TokenizerJSONPath, l.TokenizerConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	cfg := l.Window
	if cfg == (tokenizer.WindowConfig{}) {
		cfg = tokenizer.DefaultWindowConfig()
	}
	windower, err := tokenizer.NewWindower(tok, cfg)
	if err != nil {
		return nil, err
	}

	var (
		sc   scorer.Scorer
		name string
	)
	if url := strings.TrimSpace(l.ScorerURL); url != "" {
		sc, name = scorer.NewRemote(url, l.ScorerToken, l.ScorerTimeout), "remote"
	} else {
		sc, name = scorer.NewLexical(tok, l.NoAnswerBias), "lexical"
	}

	engine := New(windower, sc,
		WithWindowConcurrency(l.WindowConcurrency),
		WithBatchConcurrency(l.BatchConcurrency),
	)
	return &LoadResult{
		Engine:     engine,
		Tokenizer:  tok,
		Windower:   windower,
		Scorer:     sc,
		ScorerName: name,
	}, nil
}
