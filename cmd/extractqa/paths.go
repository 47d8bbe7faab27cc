package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	tokenizerJSONName   = "tokenizer.json"
	tokenizerConfigName = "tokenizer_config.json"
)

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

// resolveTokenizerPaths finds tokenizer.json and tokenizer_config.json.
// Explicit paths win; otherwise both are looked up in dir, and the config
// file is optional.
func resolveTokenizerPaths(dir, tokJSON, tokCfg string) (string, string, error) {
	tokJSON = strings.TrimSpace(tokJSON)
	tokCfg = strings.TrimSpace(tokCfg)
	dir = strings.TrimSpace(dir)

	if tokJSON == "" {
		if dir == "" {
			return "", "", fmt.Errorf("--model-dir or --tokenizer-json is required unless %sMODEL_DIR is set", envPrefix)
		}
		st, err := os.Stat(dir)
		if err != nil {
			return "", "", err
		}
		if !st.IsDir() {
			return "", "", fmt.Errorf("model dir is not a directory: %s", dir)
		}
		tokJSON = filepath.Join(dir, tokenizerJSONName)
		if _, err := os.Stat(tokJSON); err != nil {
			return "", "", fmt.Errorf("%s not found in %s", tokenizerJSONName, dir)
		}
	}
	if tokCfg == "" && dir != "" {
		candidate := filepath.Join(dir, tokenizerConfigName)
		if _, err := os.Stat(candidate); err == nil {
			tokCfg = candidate
		}
	}
	return filepath.Clean(tokJSON), cleanOptional(tokCfg), nil
}

func cleanOptional(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}

// readContext returns the passage to answer from: the literal flag value, a
// file, or stdin when the file is "-" or when stdin is piped and nothing
// else was given.
func readContext(literal, file string, stdin io.Reader) (string, error) {
	if literal != "" && file != "" {
		return "", errors.New("--context and --context-file are mutually exclusive")
	}
	if literal != "" {
		return literal, nil
	}
	switch {
	case file == "-":
		return readAllString(stdin)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read context: %w", err)
		}
		return string(data), nil
	case !stdinIsTTY():
		return readAllString(stdin)
	default:
		return "", errors.New("a context is required: use --context, --context-file or pipe it on stdin")
	}
}

func readAllString(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read context: %w", err)
	}
	return string(data), nil
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
