package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/spans"
)

func askCmd() *cli.Command {
	var (
		question    string
		contextText string
		contextFile string
		asJSON      bool
		dec         decodeOptions
	)

	return &cli.Command{
		Name:  "ask",
		Usage: "Answer a question about a context; without --question read questions interactively",
		Flags: append(append(engineFlags(), dec.flags()...),
			&cli.StringFlag{
				Name:        "question",
				Aliases:     []string{"q"},
				Usage:       "question to answer",
				Destination: &question,
			},
			&cli.StringFlag{
				Name:        "context",
				Aliases:     []string{"c"},
				Usage:       "context passage",
				Destination: &contextText,
			},
			&cli.StringFlag{
				Name:        "context-file",
				Aliases:     []string{"f"},
				Usage:       "read the context from a file (- for stdin)",
				Destination: &contextFile,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print answers as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := configFromContext(ctx)
			applyDecodeConfig(cmd, cfg, &dec)
			opts := dec.options()
			if err := opts.Validate(); err != nil {
				return err
			}

			interactive := strings.TrimSpace(question) == ""
			if interactive && contextText == "" && (contextFile == "" || contextFile == "-") {
				return errors.New("interactive mode reads questions from stdin; pass the context with --context or --context-file")
			}
			passage, err := readContext(contextText, contextFile, os.Stdin)
			if err != nil {
				return err
			}

			res, err := loadEngine(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = res.Engine.Close() }()

			emit := func(cands []spans.Candidate) error {
				if asJSON {
					return json.NewEncoder(os.Stdout).Encode(cands)
				}
				printCandidates(os.Stdout, cands)
				return nil
			}

			if !interactive {
				cands, err := res.Engine.Answer(ctx, inference.Query{Question: question, Context: passage}, opts)
				if err != nil {
					return err
				}
				return emit(cands)
			}
			return askLoop(ctx, res.Engine, passage, opts, newLineReader(os.Stdin, os.Stdout), emit)
		},
	}
}

// askLoop answers questions until EOF. Failed questions are reported and the
// loop goes on.
func askLoop(ctx context.Context, engine inference.Engine, passage string, opts spans.Options, lr *lineReader, emit func([]spans.Candidate) error) error {
	log := logger.FromContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := lr.ReadLine("? ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		q := strings.TrimSpace(line)
		if q == "" {
			continue
		}
		cands, err := engine.Answer(ctx, inference.Query{Question: q, Context: passage}, opts)
		if err != nil {
			log.Error("answer failed", "error", err)
			continue
		}
		if err := emit(cands); err != nil {
			return err
		}
	}
}

func printCandidates(w io.Writer, cands []spans.Candidate) {
	if len(cands) == 0 {
		_, _ = fmt.Fprintln(w, "no candidates")
		return
	}
	for i, c := range cands {
		if c.Impossible() {
			_, _ = fmt.Fprintf(w, "%d. %.4f  (no answer)\n", i+1, c.Score)
			continue
		}
		_, _ = fmt.Fprintf(w, "%d. %.4f  %q  [%d:%d]\n", i+1, c.Score, c.Text, c.Start, c.End)
	}
}
