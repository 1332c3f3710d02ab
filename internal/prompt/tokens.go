package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

const truncationMarker = "\n... (truncated)"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		var err error
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			log.Warn().Err(err).Msg("tokenizer unavailable, falling back to character estimate")
		}
	})
	return enc
}

// EstimateTokens counts tokens in text. When the tokenizer cannot be loaded
// it approximates at four characters per token.
func EstimateTokens(text string) int {
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// TruncateToBudget cuts code down so it fits within maxTokens, appending a
// marker when anything was dropped. The cut is proportional rather than
// token-exact; callers should treat the budget as approximate.
func TruncateToBudget(code string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return code, false
	}
	total := EstimateTokens(code)
	if total <= maxTokens {
		return code, false
	}
	keep := len(code) * maxTokens / total
	if keep > len(code) {
		keep = len(code)
	}
	return code[:keep] + truncationMarker, true
}
