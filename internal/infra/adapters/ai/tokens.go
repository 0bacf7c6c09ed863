package ai

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"longform-pipeline/internal/domain/ports/adapter"
)

// TokenEstimator counts prompt tokens when a provider reports no usage,
// so failed attempts are still charged for what was sent.
type TokenEstimator func(model string, msgs []adapter.Message) int

var encoders sync.Map // model -> *tiktoken.Tiktoken

// EstimateTokens uses tiktoken's encoding for the model (cl100k_base for
// unknown models) and falls back to a 4-chars-per-token heuristic when no
// encoding can be loaded.
func EstimateTokens(model string, msgs []adapter.Message) int {
	enc := encoderFor(model)
	if enc == nil {
		return HeuristicTokens(model, msgs)
	}
	n := 0
	for _, m := range msgs {
		// 4 tokens of per-message framing, as the chat format adds
		n += 4 + len(enc.Encode(m.Content, nil, nil))
	}
	return n + 2
}

// HeuristicTokens never touches the network.
func HeuristicTokens(_ string, msgs []adapter.Message) int {
	n := 0
	for _, m := range msgs {
		n += 4 + (len(m.Content)+3)/4
	}
	return n
}

func encoderFor(model string) *tiktoken.Tiktoken {
	key := strings.ToLower(model)
	if v, ok := encoders.Load(key); ok {
		enc, _ := v.(*tiktoken.Tiktoken)
		return enc
	}
	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc = nil
	}
	encoders.Store(key, enc)
	return enc
}
