package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/samcharles93/extractqa/internal/spans"
)

// DefaultCacheSize bounds the number of pre-tokenized words whose BPE
// segmentation is memoised.
const DefaultCacheSize = 16384

// SpecialTokens names the structural tokens used to lay out a
// (question, context) pair.
type SpecialTokens struct {
	CLS string
	SEP string
	PAD string
	UNK string
}

// HFTokenizer is a byte-level BPE tokenizer loaded from a Hugging Face
// tokenizer.json. It is safe for concurrent use.
type HFTokenizer struct {
	encoder     map[string]int
	decoder     []string
	bpeRanks    map[Pair]int
	cache       *lru.Cache[string, []string]
	byteEncoder map[byte]string
	byteDecoder map[string]byte
	pattern     *regexp.Regexp
	unkID       int
	added       []string
	addedSet    map[string]struct{}
	specialSet  map[string]struct{}
	trimOffsets bool
	specials    SpecialTokens
}

type hfPreTokenizer struct {
	Type          string `json:"type"`
	TrimOffsets   *bool  `json:"trim_offsets"`
	Pretokenizers []struct {
		Type    string `json:"type"`
		Pattern struct {
			Regex string `json:"Regex"`
		} `json:"pattern"`
	} `json:"pretokenizers"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type     string         `json:"type"`
		Vocab    map[string]int `json:"vocab"`
		Merges   []any          `json:"merges"`
		UnkToken string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Type        string `json:"type"`
		TrimOffsets *bool  `json:"trim_offsets"`
		Sep         []any  `json:"sep"`
		Cls         []any  `json:"cls"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

// tokenField accepts both "<s>" and {"content": "<s>", ...}.
type tokenField string

func (f *tokenField) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = tokenField(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*f = tokenField(obj.Content)
	return nil
}

type hfTokenizerConfig struct {
	BOS tokenField `json:"bos_token"`
	EOS tokenField `json:"eos_token"`
	CLS tokenField `json:"cls_token"`
	SEP tokenField `json:"sep_token"`
	PAD tokenField `json:"pad_token"`
	UNK tokenField `json:"unk_token"`
}

// LoadHFTokenizer reads tokenizer.json and, when tokConfig is not empty,
// tokenizer_config.json.
func LoadHFTokenizer(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		raw, err := os.ReadFile(tokConfig)
		if err != nil {
			return nil, fmt.Errorf("read tokenizer config: %w", err)
		}
		cfg = raw
	}
	return LoadHFTokenizerBytes(data, cfg)
}

func LoadHFTokenizerBytes(tokJSON []byte, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	added := make([]string, 0, len(tj.AddedTokens))
	addedSet := make(map[string]struct{}, len(tj.AddedTokens))
	specialSet := make(map[string]struct{})
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
		added = append(added, at.Content)
		addedSet[at.Content] = struct{}{}
		if at.Special {
			specialSet[at.Content] = struct{}{}
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		decoder[id] = tok
	}

	bpeRanks := make(map[Pair]int, len(tj.Model.Merges))
	rank := 0
	for _, raw := range tj.Model.Merges {
		line := ""
		switch v := raw.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := Pair{A: parts[0], B: parts[1]}
		if _, ok := bpeRanks[p]; !ok {
			bpeRanks[p] = rank
			rank++
		}
	}

	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer config: %w", err)
		}
	}

	specials := SpecialTokens{
		CLS: firstToken(encoder, string(cfg.CLS), processorToken(tj.PostProcessor.Cls), string(cfg.BOS), "<s>"),
		SEP: firstToken(encoder, string(cfg.SEP), processorToken(tj.PostProcessor.Sep), string(cfg.EOS), "</s>"),
		PAD: firstToken(encoder, string(cfg.PAD), "<pad>"),
		UNK: firstToken(encoder, tj.Model.UnkToken, string(cfg.UNK), "<unk>"),
	}
	if specials.CLS == "" || specials.SEP == "" || specials.PAD == "" {
		return nil, fmt.Errorf("tokenizer is missing special tokens (cls=%q sep=%q pad=%q)", specials.CLS, specials.SEP, specials.PAD)
	}

	unkID := -1
	if specials.UNK != "" {
		unkID = encoder[specials.UNK]
	}

	trim := true
	if tj.PostProcessor.TrimOffsets != nil {
		trim = *tj.PostProcessor.TrimOffsets
	} else if tj.PreTokenizer.TrimOffsets != nil {
		trim = *tj.PreTokenizer.TrimOffsets
	}

	cache, err := lru.New[string, []string](DefaultCacheSize)
	if err != nil {
		return nil, err
	}
	byteEncoder, byteDecoder := bytesToUnicode()

	return &HFTokenizer{
		encoder:     encoder,
		decoder:     decoder,
		bpeRanks:    bpeRanks,
		cache:       cache,
		byteEncoder: byteEncoder,
		byteDecoder: byteDecoder,
		pattern:     buildHFPattern(tj.PreTokenizer),
		unkID:       unkID,
		added:       sortLongestFirst(added),
		addedSet:    addedSet,
		specialSet:  specialSet,
		trimOffsets: trim,
		specials:    specials,
	}, nil
}

// EncodeOffsets tokenizes text and records the byte range each token
// covers. Leading and trailing whitespace is trimmed from the ranges when
// the tokenizer asks for it (RoBERTa does), so "Ġblue" covers "blue".
// Ranges always start and end on rune boundaries.
func (t *HFTokenizer) EncodeOffsets(text string) ([]Token, error) {
	var toks []Token
	for _, part := range splitAdded(text, t.added) {
		if part.isSpecial {
			_, special := t.specialSet[part.text]
			toks = append(toks, Token{
				ID:      t.encoder[part.text],
				Offset:  spans.Offset{Start: part.start, End: part.start + len(part.text)},
				Special: special,
			})
			continue
		}
		for _, loc := range splitWords(t.pattern, part.text) {
			pos := part.start + loc[0]
			for _, piece := range t.bpe(t.byteEncode(part.text[loc[0]:loc[1]])) {
				// Every rune of a byte-encoded piece stands for one input byte.
				n := utf8.RuneCountInString(piece)
				off := spans.Offset{Start: pos, End: pos + n}
				pos += n
				id, ok := t.encoder[piece]
				if !ok {
					if t.unkID < 0 {
						return nil, fmt.Errorf("unknown token: %q", piece)
					}
					id = t.unkID
				}
				toks = append(toks, Token{ID: id, Offset: t.adjustOffset(text, off)})
			}
		}
	}
	return toks, nil
}

// Encode returns only the token ids of text.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	toks, err := t.EncodeOffsets(text)
	if err != nil {
		return nil, err
	}
	ids := make([]int, len(toks))
	for i, tok := range toks {
		ids[i] = tok.ID
	}
	return ids, nil
}

func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if _, ok := t.addedSet[token]; ok {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *HFTokenizer) TokenID(token string) (int, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *HFTokenizer) Specials() SpecialTokens { return t.specials }
func (t *HFTokenizer) VocabSize() int          { return len(t.decoder) }

func (t *HFTokenizer) adjustOffset(text string, off spans.Offset) spans.Offset {
	if t.trimOffsets {
		for off.Start < off.End {
			r, size := utf8.DecodeRuneInString(text[off.Start:off.End])
			if !unicode.IsSpace(r) {
				break
			}
			off.Start += size
		}
		for off.End > off.Start {
			r, size := utf8.DecodeLastRuneInString(text[off.Start:off.End])
			if !unicode.IsSpace(r) {
				break
			}
			off.End -= size
		}
	}
	if off.Empty() {
		return spans.Offset{Start: off.Start, End: off.Start}
	}
	for off.Start > 0 && !utf8.RuneStart(text[off.Start]) {
		off.Start--
	}
	for off.End < len(text) && !utf8.RuneStart(text[off.End]) {
		off.End++
	}
	return off
}

func (t *HFTokenizer) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFTokenizer) bpe(token string) []string {
	if v, ok := t.cache.Get(token); ok {
		return v
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok {
				if rank < bestRank {
					bestRank = rank
					bestPair = p
					found = true
				}
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	t.cache.Add(token, word)
	return word
}

func buildHFPattern(pre hfPreTokenizer) *regexp.Regexp {
	if pre.Type != "Sequence" {
		return gpt2Pattern
	}
	for _, p := range pre.Pretokenizers {
		if p.Type != "Split" || p.Pattern.Regex == "" {
			continue
		}
		// Llama3-style regexes use lookahead, which Go does not support.
		// Substitute the llama.cpp variant.
		if strings.Contains(p.Pattern.Regex, "(?!") || strings.Contains(p.Pattern.Regex, "(?i:") {
			return regexp.MustCompile(`(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`)
		}
		if re, err := regexp.Compile(p.Pattern.Regex); err == nil {
			return re
		}
	}
	return gpt2Pattern
}

// processorToken extracts the token string of a RobertaProcessing
// ["</s>", 2] pair.
func processorToken(v []any) string {
	if len(v) == 0 {
		return ""
	}
	s, _ := v[0].(string)
	return s
}

// firstToken returns the first candidate present in the vocabulary.
func firstToken(encoder map[string]int, candidates ...string) string {
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, ok := encoder[c]; ok {
			return c
		}
	}
	return ""
}
