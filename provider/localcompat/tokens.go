package localcompat

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/sovereign-gateway/scri/scri"
)

// fallbackEncoding is used when a model id is unknown to the tokenizer
// tables — local inference servers report names like "llama3.3" that
// tiktoken has no entry for, and cl100k is close enough for accounting.
const fallbackEncoding = "cl100k_base"

// estimateUsage approximates token counts for backends that omit the
// usage object entirely (common on self-hosted OpenAI-compatible
// servers). Estimated counts keep the metrics sink and budget-style
// callers fed; scri.Usage carries no estimate marker, so an estimated
// count looks the same as one the backend reported.
func estimateUsage(model string, messages []scri.Message, output string) scri.Usage {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return scri.Usage{}
		}
	}

	var input int
	for _, m := range messages {
		input += len(enc.Encode(m.Text(), nil, nil))
	}
	out := len(enc.Encode(output, nil, nil))
	return scri.Usage{InputTokens: input, OutputTokens: out, TotalTokens: input + out}
}
