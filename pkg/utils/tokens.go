package utils

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

const tokenEncoding = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		e, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			enc = e
		}
	})
	return enc
}

// EstimateTokens returns the cl100k_base token count of text, or roughly one
// token per four bytes when the encoding is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// EstimateTokensList estimates the tokens of a list of texts sent as chat
// messages: three tokens of framing per text plus five for the request.
func EstimateTokensList(texts []string) int {
	total := 5
	for _, t := range texts {
		total += 3 + EstimateTokens(t)
	}
	return total
}
