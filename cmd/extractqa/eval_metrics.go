package main

import (
	"strings"
	"unicode"
)

// normalizeAnswer lowercases s, drops punctuation and the articles a, an
// and the, and collapses whitespace. This is the normalisation the official
// SQuAD scorer applies before comparing answers.
func normalizeAnswer(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return r
	}, s)
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		switch w {
		case "a", "an", "the":
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func exactMatch(prediction, gold string) bool {
	return normalizeAnswer(prediction) == normalizeAnswer(gold)
}

// tokenF1 is the harmonic mean of token precision and recall between the
// normalised prediction and gold answer. Two empty answers score 1.
func tokenF1(prediction, gold string) float64 {
	pred := strings.Fields(normalizeAnswer(prediction))
	ref := strings.Fields(normalizeAnswer(gold))
	if len(pred) == 0 || len(ref) == 0 {
		if len(pred) == len(ref) {
			return 1
		}
		return 0
	}

	counts := make(map[string]int, len(ref))
	for _, w := range ref {
		counts[w]++
	}
	common := 0
	for _, w := range pred {
		if counts[w] > 0 {
			counts[w]--
			common++
		}
	}
	if common == 0 {
		return 0
	}
	precision := float64(common) / float64(len(pred))
	recall := float64(common) / float64(len(ref))
	return 2 * precision * recall / (precision + recall)
}

// bestScores returns the best exact match and F1 of prediction over the
// gold answers. An unanswerable question has the single gold answer "".
func bestScores(prediction string, golds []string) (em, f1 float64) {
	if len(golds) == 0 {
		golds = []string{""}
	}
	for _, g := range golds {
		if exactMatch(prediction, g) {
			em = 1
		}
		f1 = max(f1, tokenF1(prediction, g))
	}
	return em, f1
}

// evalReport aggregates per-question scores.
type evalReport struct {
	Questions    int     `json:"questions"`
	ExactMatch   float64 `json:"exact_match"`
	F1           float64 `json:"f1"`
	HasAnswer    int     `json:"has_answer"`
	HasAnswerEM  float64 `json:"has_answer_exact_match"`
	HasAnswerF1  float64 `json:"has_answer_f1"`
	NoAnswer     int     `json:"no_answer"`
	NoAnswerAcc  float64 `json:"no_answer_accuracy"`
	Failed       int     `json:"failed"`
	sumEM, sumF1 float64
	hasEM, hasF1 float64
	noCorrect    int
}

func (r *evalReport) add(prediction string, golds []string, impossible bool) {
	em, f1 := bestScores(prediction, golds)
	r.Questions++
	r.sumEM += em
	r.sumF1 += f1
	if impossible || len(golds) == 0 {
		r.NoAnswer++
		if prediction == "" {
			r.noCorrect++
		}
		return
	}
	r.HasAnswer++
	r.hasEM += em
	r.hasF1 += f1
}

// finish turns the running sums into percentages.
func (r *evalReport) finish() {
	pct := func(sum float64, n int) float64 {
		if n == 0 {
			return 0
		}
		return 100 * sum / float64(n)
	}
	r.ExactMatch = pct(r.sumEM, r.Questions)
	r.F1 = pct(r.sumF1, r.Questions)
	r.HasAnswerEM = pct(r.hasEM, r.HasAnswer)
	r.HasAnswerF1 = pct(r.hasF1, r.HasAnswer)
	r.NoAnswerAcc = pct(float64(r.noCorrect), r.NoAnswer)
}
