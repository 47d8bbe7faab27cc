package tokenizer

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Pair represents a pair of BPE tokens.
type Pair struct {
	A string
	B string
}

// textPart is a run of input text starting at byte offset start.
type textPart struct {
	text      string
	start     int
	isSpecial bool
}

// gpt2Pattern is the GPT-2 pre-tokenizer without its `\s+(?!\S)` branch,
// which Go regexp cannot express. splitWords restores that behaviour.
var gpt2Pattern = regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[Pair]struct{} {
	pairs := make(map[Pair]struct{})
	if len(word) < 2 {
		return pairs
	}
	prev := word[0]
	for _, w := range word[1:] {
		pairs[Pair{A: prev, B: w}] = struct{}{}
		prev = w
	}
	return pairs
}

func mergePair(word []string, pair Pair) []string {
	var out []string
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// sortLongestFirst orders added tokens so that the longest match wins.
func sortLongestFirst(tokens []string) []string {
	out := slices.Clone(tokens)
	slices.SortStableFunc(out, func(a, b string) int {
		return len(b) - len(a)
	})
	return out
}

// splitAdded cuts text around occurrences of added tokens, keeping the
// byte position of every part.
func splitAdded(text string, added []string) []textPart {
	if len(added) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	plainStart := 0
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range added {
			if sp != "" && strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if i > plainStart {
			parts = append(parts, textPart{text: text[plainStart:i], start: plainStart})
		}
		parts = append(parts, textPart{text: match, start: i, isSpecial: true})
		i += len(match)
		plainStart = i
	}
	if plainStart < len(text) {
		parts = append(parts, textPart{text: text[plainStart:], start: plainStart})
	}
	return parts
}

// splitWords pre-tokenizes s and returns [start, end) byte ranges. A run of
// whitespace followed by a word hands its last character to that word (when
// it is a space) or emits it on its own, as the `\s+(?!\S)` branch of the
// GPT-2 pattern does.
func splitWords(pattern *regexp.Regexp, s string) [][2]int {
	locs := pattern.FindAllStringIndex(s, -1)
	out := make([][2]int, 0, len(locs))
	for i, loc := range locs {
		start, end := loc[0], loc[1]
		if i+1 < len(locs) && locs[i+1][0] == end && isAllSpace(s[start:end]) {
			last, size := utf8.DecodeLastRuneInString(s[start:end])
			if end-start > size {
				out = append(out, [2]int{start, end - size})
				if last == ' ' {
					locs[i+1][0] = end - size
				} else {
					out = append(out, [2]int{end - size, end})
				}
				continue
			}
		}
		out = append(out, [2]int{start, end})
	}
	return out
}

// isAllSpace matches the regexp \s class: ASCII whitespace only.
func isAllSpace(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\n', '\f', '\r':
		default:
			return false
		}
	}
	return s != ""
}

// bytesToUnicode maps bytes to unicode strings to make BPE reversible.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := make([]int, len(bs))
	copy(cs, bs)
	n := 0
	for b := 0; b < 256; b++ {
		found := false
		for _, v := range bs {
			if v == b {
				found = true
				break
			}
		}
		if !found {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	byteEncoder := make(map[byte]string, len(bs))
	byteDecoder := make(map[string]byte, len(bs))
	for i := 0; i < len(bs); i++ {
		b := byte(bs[i])
		r := rune(cs[i])
		s := string(r)
		byteEncoder[b] = s
		byteDecoder[s] = b
	}
	return byteEncoder, byteDecoder
}
