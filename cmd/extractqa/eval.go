package main

import (
	"context"
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/extractqa/internal/inference"
	"github.com/samcharles93/extractqa/internal/logger"
	"github.com/samcharles93/extractqa/internal/spans"
)

// squadFile is the part of the SQuAD v2 dev/train format eval reads.
type squadFile struct {
	Version string `json:"version"`
	Data    []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			Qas     []struct {
				ID       string `json:"id"`
				Question string `json:"question"`
				Answers  []struct {
					Text        string `json:"text"`
					AnswerStart int    `json:"answer_start"`
				} `json:"answers"`
				IsImpossible bool `json:"is_impossible"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

func evalCmd() *cli.Command {
	var (
		file   string
		limit  int64
		asJSON bool
		dec    decodeOptions
	)

	return &cli.Command{
		Name:  "eval",
		Usage: "Score the engine on a SQuAD v2 file (exact match, F1, no-answer accuracy)",
		Flags: append(append(engineFlags(), dec.flags()...),
			&cli.StringFlag{
				Name:        "file",
				Usage:       "SQuAD v2 JSON file (- for stdin)",
				Required:    true,
				Destination: &file,
			},
			&cli.Int64Flag{
				Name:        "limit",
				Usage:       "stop after this many questions (0 = all)",
				Destination: &limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
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

			set, err := readSquad(file, os.Stdin)
			if err != nil {
				return err
			}
			res, err := loadEngine(ctx, cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = res.Engine.Close() }()

			report, err := runEval(ctx, res.Engine, set, opts, int(limit))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(os.Stdout, report)
			return nil
		},
	}
}

func readSquad(path string, stdin io.Reader) (squadFile, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return squadFile{}, err
		}
		defer f.Close()
		r = f
	}
	var set squadFile
	if err := json.NewDecoder(r).Decode(&set); err != nil {
		return squadFile{}, fmt.Errorf("parse squad file: %w", err)
	}
	return set, nil
}

// runEval answers every question of set, one batch per paragraph, and
// scores the top candidate. Questions the engine rejects as bad input are
// counted as failed and scored as empty predictions.
func runEval(ctx context.Context, engine inference.Engine, set squadFile, opts spans.Options, limit int) (evalReport, error) {
	log := logger.FromContext(ctx)
	var report evalReport

	for _, article := range set.Data {
		for _, para := range article.Paragraphs {
			qas := para.Qas
			if limit > 0 {
				left := limit - report.Questions
				if left <= 0 {
					report.finish()
					return report, nil
				}
				qas = qas[:min(len(qas), left)]
			}
			if len(qas) == 0 {
				continue
			}

			queries := make([]inference.Query, len(qas))
			for i, qa := range qas {
				queries[i] = inference.Query{Question: qa.Question, Context: para.Context}
			}
			results, err := engine.AnswerBatch(ctx, queries, opts)
			if err != nil {
				if !inference.IsClientError(err) {
					return evalReport{}, err
				}
				// One bad question fails the batch; retry them one by one.
				results = make([][]spans.Candidate, len(queries))
				for i, q := range queries {
					cands, err := engine.Answer(ctx, q, opts)
					if err != nil {
						if !inference.IsClientError(err) {
							return evalReport{}, err
						}
						log.Warn("question skipped", "id", qas[i].ID, "error", err)
						report.Failed++
						continue
					}
					results[i] = cands
				}
			}

			for i, qa := range qas {
				golds := make([]string, 0, len(qa.Answers))
				for _, a := range qa.Answers {
					golds = append(golds, a.Text)
				}
				report.add(topAnswer(results[i]), golds, qa.IsImpossible)
			}
			log.Debug("paragraph scored", "title", article.Title, "questions", len(qas), "total", report.Questions)
		}
	}
	report.finish()
	return report, nil
}

// topAnswer is the text of the best candidate; no answer is "".
func topAnswer(cands []spans.Candidate) string {
	if len(cands) == 0 || cands[0].Impossible() {
		return ""
	}
	return cands[0].Text
}

func printReport(w io.Writer, r evalReport) {
	_, _ = fmt.Fprintf(w, "questions:     %d (%d failed)\n", r.Questions, r.Failed)
	_, _ = fmt.Fprintf(w, "exact match:   %.2f\n", r.ExactMatch)
	_, _ = fmt.Fprintf(w, "f1:            %.2f\n", r.F1)
	if r.HasAnswer > 0 {
		_, _ = fmt.Fprintf(w, "has answer:    %d  em %.2f  f1 %.2f\n", r.HasAnswer, r.HasAnswerEM, r.HasAnswerF1)
	}
	if r.NoAnswer > 0 {
		_, _ = fmt.Fprintf(w, "no answer:     %d  accuracy %.2f\n", r.NoAnswer, r.NoAnswerAcc)
	}
}
