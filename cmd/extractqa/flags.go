package main

import (
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/scorer"
	"github.com/samcharles93/extractqa/internal/spans"
	"github.com/samcharles93/extractqa/internal/tokenizer"
)

const envPrefix = "EXTRACTQA_"

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	modelDir          string
	tokenizerJSONPath string
	tokenizerConfig   string
	scorerURL         string
	scorerToken       string
	scorerTimeout     time.Duration
	noAnswerBias      float64
	maxLength         int64
	stride            int64
	windowConcurrency int64
	batchConcurrency  int64
)

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars(envPrefix + name)
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: $XDG_CONFIG_HOME/extractqa/config.yaml)",
			Sources:     env("CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     env("LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Sources:     env("LOG_FORMAT"),
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func engineFlags() []cli.Flag {
	def := tokenizer.DefaultWindowConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"m"},
			Usage:       "directory holding tokenizer.json and tokenizer_config.json",
			Sources:     env("MODEL_DIR"),
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "tokenizer-json",
			Usage:       "override path to tokenizer.json",
			Destination: &tokenizerJSONPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer-config",
			Usage:       "override path to tokenizer_config.json",
			Destination: &tokenizerConfig,
		},
		&cli.StringFlag{
			Name:        "scorer-url",
			Usage:       "model server endpoint; the lexical scorer is used when empty",
			Sources:     env("SCORER_URL"),
			Destination: &scorerURL,
		},
		&cli.StringFlag{
			Name:        "scorer-token",
			Usage:       "bearer token for the model server",
			Sources:     env("SCORER_TOKEN"),
			Destination: &scorerToken,
		},
		&cli.DurationFlag{
			Name:        "scorer-timeout",
			Usage:       "model server request timeout",
			Value:       scorer.DefaultTimeout,
			Destination: &scorerTimeout,
		},
		&cli.Float64Flag{
			Name:        "no-answer-bias",
			Usage:       "anchor logit of the lexical scorer",
			Destination: &noAnswerBias,
		},
		&cli.Int64Flag{
			Name:        "max-length",
			Usage:       "tokens per window, structural tokens included",
			Value:       int64(def.MaxLength),
			Destination: &maxLength,
		},
		&cli.Int64Flag{
			Name:        "stride",
			Usage:       "context tokens shared by consecutive windows",
			Value:       int64(def.Stride),
			Destination: &stride,
		},
		&cli.Int64Flag{
			Name:        "window-concurrency",
			Usage:       "windows decoded in parallel per question (0 = sequential)",
			Destination: &windowConcurrency,
		},
		&cli.Int64Flag{
			Name:        "batch-concurrency",
			Usage:       "questions answered in parallel per request",
			Value:       1,
			Destination: &batchConcurrency,
		},
	}
}

// decodeOptions holds the per-request decoding flags of one command.
type decodeOptions struct {
	impossible bool
	topK       int64
	maxAnsLen  int64
}

func (o *decodeOptions) flags() []cli.Flag {
	def := spans.DefaultOptions()
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "impossible",
			Usage:       "let \"no answer\" compete with spans",
			Value:       def.AllowImpossible,
			Destination: &o.impossible,
		},
		&cli.Int64Flag{
			Name:        "top-k",
			Aliases:     []string{"k"},
			Usage:       "number of answers to return",
			Value:       int64(def.TopK),
			Destination: &o.topK,
		},
		&cli.Int64Flag{
			Name:        "max-ans-len",
			Usage:       "maximum answer length in tokens",
			Value:       int64(def.MaxAnswerLength),
			Destination: &o.maxAnsLen,
		},
	}
}

func (o *decodeOptions) options() spans.Options {
	return spans.Options{
		AllowImpossible: o.impossible,
		TopK:            int(o.topK),
		MaxAnswerLength: int(o.maxAnsLen),
	}
}
