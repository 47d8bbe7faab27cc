package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

// loadEngine resolves the engine flags against the config file and builds
// the engine they describe.
func loadEngine(ctx context.Context, cmd *cli.Command, cfg Config) (*inference.LoadResult, error) {
	applyEngineConfig(cmd, cfg)

	tokJSON, tokCfg, err := resolveTokenizerPaths(modelDir, tokenizerJSONPath, tokenizerConfig)
	if err != nil {
		return nil, err
	}
	loader := inference.Loader{
		TokenizerJSONPath:   tokJSON,
		TokenizerConfigPath: tokCfg,
		Window: tokenizer.WindowConfig{
			MaxLength: int(maxLength),
			Stride:    int(stride),
		},
		ScorerURL:         scorerURL,
		ScorerToken:       scorerToken,
		ScorerTimeout:     scorerTimeout,
		NoAnswerBias:      float32(noAnswerBias),
		WindowConcurrency: int(windowConcurrency),
		BatchConcurrency:  int(batchConcurrency),
	}
	res, err := loader.Load()
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("engine ready",
		"tokenizer", tokJSON,
		"vocab", res.Tokenizer.VocabSize(),
		"scorer", res.ScorerName,
		"max_length", loader.Window.MaxLength,
		"stride", loader.Window.Stride,
	)
	return res, nil
}

// configFromContext returns the config file loaded by the root command.
func configFromContext(ctx context.Context) Config {
	if cfg, ok := ctx.Value(configKey{}).(Config); ok {
		return cfg
	}
	return Config{}
}

type configKey struct{}
