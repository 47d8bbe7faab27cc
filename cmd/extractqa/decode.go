package main

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/spans"
)

// windowDump is one question's windows and the logits a model gave them,
// as captured from a model server.
type windowDump struct {
	Context string         `json:"context"`
	Windows []spans.Window `json:"windows"`
	Logits  []spans.Logits `json:"logits"`
}

func decodeCmd() *cli.Command {
	var (
		input       string
		concurrency int64
		dec         decodeOptions
	)

	return &cli.Command{
		Name:  "decode",
		Usage: "Decode a JSON dump of windows and logits into ranked answers",
		Flags: append(dec.flags(),
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "dump file (- for stdin)",
				Value:       "-",
				Destination: &input,
			},
			&cli.Int64Flag{
				Name:        "concurrency",
				Usage:       "windows decoded in parallel (0 = sequential)",
				Destination: &concurrency,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDecodeConfig(cmd, configFromContext(ctx), &dec)

			dump, err := readDump(input, os.Stdin)
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Debug("decoding dump",
				"windows", len(dump.Windows),
				"context_bytes", len(dump.Context),
			)

			d := spans.Decoder{Concurrency: int(concurrency)}
			cands, err := d.Decode(ctx, dump.Context, dump.Windows, dump.Logits, dec.options())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cands)
		},
	}
}

func readDump(path string, stdin io.Reader) (windowDump, error) {
	var r io.Reader = stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return windowDump{}, err
		}
		defer f.Close()
		r = f
	}
	var dump windowDump
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return windowDump{}, fmt.Errorf("parse dump: %w", err)
	}
	return dump, nil
}
