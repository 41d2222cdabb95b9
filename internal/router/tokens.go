package router

import (
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// EstimateTokens approximates the prompt size of a request at roughly four
// characters per token, summed over message text, the system prompt, and the
// serialized tool schemas. It is a documented heuristic, not a tokenizer.
func EstimateTokens(req *domain.MessagesRequest) int {
	chars := len(req.System)
	for _, msg := range req.Messages {
		for _, block := range msg.Content {
			chars += len(block.Text)
			chars += len(block.Input)
			chars += len(block.Content)
		}
	}
	for _, tool := range req.Tools {
		chars += len(tool.Name) + len(tool.Description) + len(tool.InputSchema)
		if tool.Function != nil {
			chars += len(tool.Function.Name) + len(tool.Function.Description) + len(tool.Function.Parameters)
		}
	}
	return (chars + 3) / 4
}

// EstimateTextTokens applies the same chars/4 heuristic to generated text.
// Used as the usage fallback when a backend omits token counts.
func EstimateTextTokens(text string) int {
	return (len(text) + 3) / 4
}
