package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens the way the embedding model will see them.
type Tokenizer interface {
	CountTokens(text string) int
}

// TiktokenTokenizer counts tokens with a tiktoken BPE encoding.
type TiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
	}

	return &TiktokenTokenizer{encoding: enc}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	return len(t.encoding.Encode(text, nil, nil))
}

// HeuristicTokenizer approximates token counts without a BPE table. Roughly
// 4/3 tokens per whitespace-delimited word, which tracks cl100k within a few
// percent on English prose.
type HeuristicTokenizer struct{}

func (HeuristicTokenizer) CountTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return words + words/3 + 1
}
