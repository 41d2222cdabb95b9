package transform

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// Native OpenAI /chat/completions shapes. Request direction is produced by
// ToOpenAI; response shapes are consumed by the normalizer.

type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  any             `json:"tool_choice,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type OpenAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

type OpenAIChoice struct {
	Index        int                `json:"index"`
	Message      *OpenAIRespMessage `json:"message,omitempty"`
	Delta        *OpenAIDelta       `json:"delta,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty"`
}

type OpenAIRespMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIDelta struct {
	Role      string                `json:"role,omitempty"`
	Content   string                `json:"content,omitempty"`
	ToolCalls []OpenAIToolCallDelta `json:"tool_calls,omitempty"`
}

type OpenAIToolCallDelta struct {
	Index    int                `json:"index"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToOpenAI maps a canonical request onto /chat/completions. The system
// prompt becomes a leading system-role message; assistant tool_use blocks
// become tool_calls; user tool_result blocks become tool-role messages so
// the id chain from tool_use to tool_result is preserved verbatim.
func ToOpenAI(req *domain.MessagesRequest, model string) (*OpenAIRequest, error) {
	out := &OpenAIRequest{
		Model:       model,
		MaxTokens:   clampMaxTokens(req.MaxTokens, 0, "openai"),
		Temperature: clampFloat(req.Temperature, 0, 2, "openai", "temperature"),
		TopP:        clampFloat(req.TopP, 0, 1, "openai", "top_p"),
		Stop:        req.StopSequences,
		Stream:      req.Stream,
	}

	if req.System != "" {
		out.Messages = append(out.Messages, OpenAIMessage{Role: domain.RoleSystem, Content: string(req.System)})
	}

	for _, msg := range req.Messages {
		native, err := openAIMessages(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, native...)
	}

	for _, tool := range req.Tools {
		name, desc, schema, err := CanonicalTool(tool)
		if err != nil {
			return nil, err
		}
		out.Tools = append(out.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        name,
				Description: desc,
				Parameters:  schemaOrEmpty(schema),
			},
		})
	}

	if req.ToolChoice != nil {
		choice, err := openAIToolChoice(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = choice
	}

	return out, nil
}

// openAIToolChoice is the fixed mode lookup for the OpenAI protocol.
func openAIToolChoice(tc *domain.ToolChoice) (any, error) {
	switch tc.Type {
	case "auto":
		return "auto", nil
	case "any":
		return "required", nil
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": tc.Name},
		}, nil
	default:
		return nil, &domain.TransformValidationError{Detail: "unsupported tool_choice type " + tc.Type}
	}
}

func openAIMessages(msg domain.Message) ([]OpenAIMessage, error) {
	var out []OpenAIMessage
	var text string
	var toolCalls []OpenAIToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case domain.ContentTypeText:
			text += block.Text
		case domain.ContentTypeToolUse:
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, OpenAIToolCall{
				ID:   block.ID,
				Type: "function",
				Function: OpenAIFunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case domain.ContentTypeToolResult:
			// Tool results are their own messages in the OpenAI protocol and
			// must precede the follow-up user text.
			out = append(out, OpenAIMessage{
				Role:       "tool",
				Content:    toolResultText(block.Content),
				ToolCallID: block.ToolUseID,
			})
		default:
			return nil, &domain.TransformValidationError{Detail: "unsupported content block type " + block.Type}
		}
	}

	if text != "" || len(toolCalls) > 0 || len(out) == 0 {
		out = append(out, OpenAIMessage{
			Role:      msg.Role,
			Content:   text,
			ToolCalls: toolCalls,
		})
	}
	return out, nil
}

// toolResultText flattens a tool_result payload (string, or array of text
// blocks) into plain text.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		var s string
		for _, b := range blocks {
			s += b.Text
		}
		return s
	}
	return string(raw)
}
