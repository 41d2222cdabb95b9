// Package normalize builds canonical responses out of native provider
// output: merging text fragments, attaching tool_use blocks with stable ids,
// and mapping each protocol's finish vocabulary onto the canonical enum.
package normalize

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/router"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/transform"
	"github.com/google/uuid"
)

// MapOpenAIFinishReason is the fixed finish_reason table for the OpenAI
// protocol.
func MapOpenAIFinishReason(reason string) string {
	switch reason {
	case "stop", "":
		return domain.StopReasonEndTurn
	case "length":
		return domain.StopReasonMaxTokens
	case "tool_calls", "function_call":
		return domain.StopReasonToolUse
	case "content_filter":
		return domain.StopReasonStopSequence
	default:
		return domain.StopReasonEndTurn
	}
}

// MapGeminiFinishReason is the fixed finishReason table for the Gemini
// protocol.
func MapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP", "OTHER", "FINISH_REASON_UNSPECIFIED", "":
		return domain.StopReasonEndTurn
	case "MAX_TOKENS":
		return domain.StopReasonMaxTokens
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return domain.StopReasonStopSequence
	case "MALFORMED_FUNCTION_CALL":
		return domain.StopReasonToolUse
	default:
		return domain.StopReasonEndTurn
	}
}

// StableToolID keeps a provider-supplied id; otherwise it derives a
// deterministic one from the call's name and input so retries and replays
// produce the same id. Downstream stages never regenerate ids.
func StableToolID(supplied, name string, input []byte) string {
	if supplied != "" {
		return supplied
	}
	return domain.DeterministicToolID(name, input)
}

// NewMessageID mints a canonical message id.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// FromOpenAI converts a /chat/completions response. A tool_calls part forces
// stop_reason tool_use regardless of the declared finish_reason.
func FromOpenAI(resp *transform.OpenAIResponse, model string) (*domain.MessagesResponse, error) {
	out := newResponse(resp.ID, model)
	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderHTTPError{Provider: "openai", Status: 502, Body: "response has no choices"}
	}
	choice := resp.Choices[0]
	if choice.Message != nil {
		if choice.Message.Content != "" {
			out.Content = append(out.Content, domain.TextBlock(choice.Message.Content))
		}
		for _, call := range choice.Message.ToolCalls {
			input := json.RawMessage(call.Function.Arguments)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, domain.ToolUseBlock(
				StableToolID(call.ID, call.Function.Name, input),
				call.Function.Name,
				input,
			))
		}
	}
	out.StopReason = MapOpenAIFinishReason(choice.FinishReason)
	if out.HasToolUse() {
		out.StopReason = domain.StopReasonToolUse
	}
	if resp.Usage != nil {
		out.Usage = domain.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// FromGemini converts a generateContent response. A functionCall part forces
// stop_reason tool_use regardless of the declared finishReason.
func FromGemini(resp *transform.GeminiResponse, model string) (*domain.MessagesResponse, error) {
	out := newResponse(resp.ResponseID, model)
	if len(resp.Candidates) == 0 {
		return nil, &domain.ProviderHTTPError{Provider: "gemini", Status: 502, Body: "response has no candidates"}
	}
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		var pendingText string
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				pendingText += part.Text
			}
			if part.FunctionCall != nil {
				if pendingText != "" {
					out.Content = append(out.Content, domain.TextBlock(pendingText))
					pendingText = ""
				}
				input := part.FunctionCall.Args
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				out.Content = append(out.Content, domain.ToolUseBlock(
					StableToolID("", part.FunctionCall.Name, input),
					part.FunctionCall.Name,
					input,
				))
			}
		}
		if pendingText != "" {
			out.Content = append(out.Content, domain.TextBlock(pendingText))
		}
	}
	out.StopReason = MapGeminiFinishReason(candidate.FinishReason)
	if out.HasToolUse() {
		out.StopReason = domain.StopReasonToolUse
	}
	if resp.UsageMetadata != nil {
		out.Usage = domain.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}
	return out, nil
}

// FromEvents assembles a canonical response from an ordered list of decoded
// provider events, concatenating text deltas and tool input fragments in
// arrival order.
func FromEvents(events []domain.ProviderEvent, model string) (*domain.MessagesResponse, error) {
	out := newResponse("", model)

	var pendingText string
	var toolID, toolName, toolInput string
	var inTool bool

	flushText := func() {
		if pendingText != "" {
			out.Content = append(out.Content, domain.TextBlock(pendingText))
			pendingText = ""
		}
	}
	flushTool := func() {
		if !inTool {
			return
		}
		input := json.RawMessage(toolInput)
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		out.Content = append(out.Content, domain.ToolUseBlock(
			StableToolID(toolID, toolName, input),
			toolName,
			input,
		))
		toolID, toolName, toolInput = "", "", ""
		inTool = false
	}

	for _, ev := range events {
		switch ev.Type {
		case domain.EventTextDelta:
			flushTool()
			pendingText += ev.Text
		case domain.EventToolUseStart:
			flushTool()
			flushText()
			inTool = true
			toolID = ev.ToolUseID
			toolName = ev.ToolName
		case domain.EventToolInputDelta:
			toolInput += ev.Fragment
		case domain.EventBlockStop:
			flushTool()
			flushText()
		case domain.EventDone:
			if ev.StopReason != "" {
				out.StopReason = ev.StopReason
			}
			if ev.Usage != nil {
				out.Usage = *ev.Usage
			}
		}
	}
	flushTool()
	flushText()

	if out.HasToolUse() {
		out.StopReason = domain.StopReasonToolUse
	}
	return out, nil
}

// EnsureUsage fills in missing token counts using the router's chars/4
// heuristic so usage is always populated, if only approximately.
func EnsureUsage(resp *domain.MessagesResponse, req *domain.MessagesRequest) {
	if resp.Usage.InputTokens == 0 {
		resp.Usage.InputTokens = router.EstimateTokens(req)
	}
	if resp.Usage.OutputTokens == 0 {
		var chars int
		for _, b := range resp.Content {
			chars += len(b.Text)
			chars += len(b.Input)
		}
		resp.Usage.OutputTokens = (chars + 3) / 4
	}
}

func newResponse(id, model string) *domain.MessagesResponse {
	if id == "" {
		id = NewMessageID()
	}
	return &domain.MessagesResponse{
		ID:    id,
		Type:  "message",
		Role:  domain.RoleAssistant,
		Model: model,
	}
}
