package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const perTurnOverhead = 4

// TokenCounter estimates the token count of text for a model. It is used
// when a provider does not report usage.
type TokenCounter func(model, text string) int

// EstimateTokens is the offline heuristic: about four runes per token.
func EstimateTokens(_ string, text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// NewTiktokenCounter counts with the model's BPE encoding, falling back to
// cl100k_base and then to EstimateTokens. Encoders are cached per model.
func NewTiktokenCounter() TokenCounter {
	var (
		mu       sync.Mutex
		encoders = make(map[string]*tiktoken.Tiktoken)
	)

	encoderFor := func(model string) *tiktoken.Tiktoken {
		mu.Lock()
		defer mu.Unlock()
		if enc, ok := encoders[model]; ok {
			return enc
		}
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				enc = nil
			}
		}
		encoders[model] = enc
		return enc
	}

	return func(model, text string) int {
		if text == "" {
			return 0
		}
		if enc := encoderFor(model); enc != nil {
			return len(enc.Encode(text, nil, nil))
		}
		return EstimateTokens(model, text)
	}
}
