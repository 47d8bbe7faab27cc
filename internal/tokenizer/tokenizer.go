package tokenizer

import "github.com/samcharles93/extractqa/internal/spans"

// Token is one encoded token and the byte range of the input it covers.
type Token struct {
	ID     int
	Offset spans.Offset
	// Special is set for added special tokens such as a literal "</s>" in
	// the input. They never start or end an answer.
	Special bool
}

// Tokenizer is what the windower and scorers need from a vocabulary.
type Tokenizer interface {
	EncodeOffsets(text string) ([]Token, error)
	Decode(ids []int) (string, error)
	TokenID(token string) (int, bool)
	Specials() SpecialTokens
}
