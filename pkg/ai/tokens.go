package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "o200k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(tokenEncoding)
	})
	return enc, encErr
}

// CountTokens returns the o200k token count of text. When the encoding cannot
// be loaded it falls back to a four-characters-per-token estimate.
func CountTokens(text string) int {
	e, err := encoding()
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(e.Encode(text, nil, nil))
}

// TruncateTokens cuts text to at most maxTokens tokens.
func TruncateTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	e, err := encoding()
	if err != nil {
		if limit := maxTokens * 4; len(text) > limit {
			return text[:limit]
		}
		return text
	}
	ids := e.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return e.Decode(ids[:maxTokens])
}
