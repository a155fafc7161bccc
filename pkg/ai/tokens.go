package ai

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var encoders sync.Map

// EstimateTokens counts the tokens of text under the named tiktoken
// encoding. Encodings are cached after first use.
func EstimateTokens(encoding string, text string) (int, error) {
	if cached, ok := encoders.Load(encoding); ok {
		return len(cached.(*tiktoken.Tiktoken).Encode(text, nil, nil)), nil
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return 0, err
	}
	encoders.Store(encoding, enc)
	return len(enc.Encode(text, nil, nil)), nil
}
