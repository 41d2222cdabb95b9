package transform

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/google/uuid"
)

// Native CodeWhisperer generateAssistantResponse shapes. The response side
// is a binary event stream decoded in the provider package; only the request
// direction is declared here.

type CWRequest struct {
	ConversationState CWConversationState `json:"conversationState"`
}

type CWConversationState struct {
	ChatTriggerType string      `json:"chatTriggerType"`
	ConversationID  string      `json:"conversationId"`
	CurrentMessage  CWMessage   `json:"currentMessage"`
	History         []CWMessage `json:"history,omitempty"`
}

// CWMessage holds exactly one of its two arms.
type CWMessage struct {
	UserInputMessage         *CWUserInputMessage         `json:"userInputMessage,omitempty"`
	AssistantResponseMessage *CWAssistantResponseMessage `json:"assistantResponseMessage,omitempty"`
}

type CWUserInputMessage struct {
	Content                 string                     `json:"content"`
	ModelID                 string                     `json:"modelId"`
	Origin                  string                     `json:"origin"`
	UserInputMessageContext *CWUserInputMessageContext `json:"userInputMessageContext,omitempty"`
}

type CWUserInputMessageContext struct {
	Tools       []CWTool       `json:"tools,omitempty"`
	ToolResults []CWToolResult `json:"toolResults,omitempty"`
}

type CWTool struct {
	ToolSpecification CWToolSpecification `json:"toolSpecification"`
}

type CWToolSpecification struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	InputSchema CWInputSchema `json:"inputSchema"`
}

type CWInputSchema struct {
	JSON json.RawMessage `json:"json"`
}

type CWToolResult struct {
	ToolUseID string                `json:"toolUseId"`
	Status    string                `json:"status"`
	Content   []CWToolResultContent `json:"content"`
}

type CWToolResultContent struct {
	Text string `json:"text,omitempty"`
}

type CWAssistantResponseMessage struct {
	Content  string      `json:"content"`
	ToolUses []CWToolUse `json:"toolUses,omitempty"`
}

type CWToolUse struct {
	ToolUseID string          `json:"toolUseId"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input,omitempty"`
}

// ToCodeWhisperer maps a canonical request onto generateAssistantResponse.
// The final user turn becomes currentMessage; earlier turns become history
// entries alternating user and assistant arms. The system prompt has no
// native field and is prepended to the first user content.
func ToCodeWhisperer(req *domain.MessagesRequest, model string) (*CWRequest, error) {
	if len(req.Messages) == 0 {
		return nil, &domain.TransformValidationError{Detail: "request has no messages"}
	}

	var tools []CWTool
	for _, tool := range req.Tools {
		name, desc, schema, err := CanonicalTool(tool)
		if err != nil {
			return nil, err
		}
		tools = append(tools, CWTool{
			ToolSpecification: CWToolSpecification{
				Name:        name,
				Description: desc,
				InputSchema: CWInputSchema{JSON: schemaOrEmpty(schema)},
			},
		})
	}

	system := string(req.System)
	var history []CWMessage
	for i, msg := range req.Messages[:len(req.Messages)-1] {
		switch msg.Role {
		case domain.RoleUser:
			entry := cwUserMessage(msg, model, nil)
			if i == 0 && system != "" {
				entry.UserInputMessage.Content = system + "\n\n" + entry.UserInputMessage.Content
				system = ""
			}
			history = append(history, entry)
		case domain.RoleAssistant:
			history = append(history, cwAssistantMessage(msg))
		default:
			return nil, &domain.TransformValidationError{Detail: "unsupported role " + msg.Role}
		}
	}

	last := req.Messages[len(req.Messages)-1]
	if last.Role != domain.RoleUser {
		return nil, &domain.TransformValidationError{Detail: "last message must be a user turn"}
	}
	current := cwUserMessage(last, model, tools)
	if system != "" {
		current.UserInputMessage.Content = system + "\n\n" + current.UserInputMessage.Content
	}

	return &CWRequest{
		ConversationState: CWConversationState{
			ChatTriggerType: "MANUAL",
			ConversationID:  uuid.New().String(),
			CurrentMessage:  current,
			History:         history,
		},
	}, nil
}

func cwUserMessage(msg domain.Message, model string, tools []CWTool) CWMessage {
	var text string
	var results []CWToolResult
	for _, block := range msg.Content {
		switch block.Type {
		case domain.ContentTypeText:
			text += block.Text
		case domain.ContentTypeToolResult:
			status := "success"
			if block.IsError {
				status = "error"
			}
			results = append(results, CWToolResult{
				ToolUseID: block.ToolUseID,
				Status:    status,
				Content:   []CWToolResultContent{{Text: toolResultText(block.Content)}},
			})
		}
	}

	input := &CWUserInputMessage{
		Content: text,
		ModelID: model,
		Origin:  "AI_EDITOR",
	}
	if len(tools) > 0 || len(results) > 0 {
		input.UserInputMessageContext = &CWUserInputMessageContext{
			Tools:       tools,
			ToolResults: results,
		}
	}
	return CWMessage{UserInputMessage: input}
}

func cwAssistantMessage(msg domain.Message) CWMessage {
	var text string
	var uses []CWToolUse
	for _, block := range msg.Content {
		switch block.Type {
		case domain.ContentTypeText:
			text += block.Text
		case domain.ContentTypeToolUse:
			uses = append(uses, CWToolUse{
				ToolUseID: block.ID,
				Name:      block.Name,
				Input:     block.Input,
			})
		}
	}
	return CWMessage{
		AssistantResponseMessage: &CWAssistantResponseMessage{
			Content:  text,
			ToolUses: uses,
		},
	}
}
