package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config is the optional config file. Pointer fields distinguish "not set"
// from zero values. File values only apply to flags left at their default.
type Config struct {
	ModelDir        string         `yaml:"model_dir"`
	TokenizerJSON   string         `yaml:"tokenizer_json"`
	TokenizerConfig string         `yaml:"tokenizer_config"`
	ScorerURL       string         `yaml:"scorer_url"`
	ScorerToken     string         `yaml:"scorer_token"`
	ScorerTimeout   *time.Duration `yaml:"scorer_timeout"`
	NoAnswerBias    *float64       `yaml:"no_answer_bias"`

	// Windowing
	MaxLength *int64 `yaml:"max_length"`
	Stride    *int64 `yaml:"stride"`

	// Decoding defaults
	Impossible *bool  `yaml:"impossible"`
	TopK       *int64 `yaml:"top_k"`
	MaxAnsLen  *int64 `yaml:"max_ans_len"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string   `yaml:"server_address"`
	RateLimit     *float64 `yaml:"rate_limit"`
	RateBurst     *int64   `yaml:"rate_burst"`
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "extractqa", "config.yaml")
}

// LoadConfig reads the config file at path, or at the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return Config{}, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig runs before the logger exists, so it only touches the
// logging globals.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyEngineConfig applies config file defaults to the engine flags.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		modelDir = cfg.ModelDir
	}
	if cfg.TokenizerJSON != "" && !c.IsSet("tokenizer-json") {
		tokenizerJSONPath = cfg.TokenizerJSON
	}
	if cfg.TokenizerConfig != "" && !c.IsSet("tokenizer-config") {
		tokenizerConfig = cfg.TokenizerConfig
	}
	if cfg.ScorerURL != "" && !c.IsSet("scorer-url") {
		scorerURL = cfg.ScorerURL
	}
	if cfg.ScorerToken != "" && !c.IsSet("scorer-token") {
		scorerToken = cfg.ScorerToken
	}
	if cfg.ScorerTimeout != nil && !c.IsSet("scorer-timeout") {
		scorerTimeout = *cfg.ScorerTimeout
	}
	if cfg.NoAnswerBias != nil && !c.IsSet("no-answer-bias") {
		noAnswerBias = *cfg.NoAnswerBias
	}
	if cfg.MaxLength != nil && !c.IsSet("max-length") {
		maxLength = *cfg.MaxLength
	}
	if cfg.Stride != nil && !c.IsSet("stride") {
		stride = *cfg.Stride
	}
}

// applyDecodeConfig applies config file defaults to the decoding flags.
func applyDecodeConfig(c *cli.Command, cfg Config, o *decodeOptions) {
	if cfg.Impossible != nil && !c.IsSet("impossible") {
		o.impossible = *cfg.Impossible
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		o.topK = *cfg.TopK
	}
	if cfg.MaxAnsLen != nil && !c.IsSet("max-ans-len") {
		o.maxAnsLen = *cfg.MaxAnsLen
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, rateLimit *float64, rateBurst *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RateLimit != nil && !c.IsSet("rate-limit") {
		*rateLimit = *cfg.RateLimit
	}
	if cfg.RateBurst != nil && !c.IsSet("rate-burst") {
		*rateBurst = *cfg.RateBurst
	}
}
