package transform

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

func TestToCodeWhispererCurrentAndHistory(t *testing.T) {
	req := &domain.MessagesRequest{
		Model:     "claude-sonnet",
		System:    "be terse",
		MaxTokens: 100,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{domain.TextBlock("first")}},
			{Role: domain.RoleAssistant, Content: []domain.ContentBlock{domain.TextBlock("reply")}},
			{Role: domain.RoleUser, Content: []domain.ContentBlock{domain.TextBlock("second")}},
		},
		Tools: []domain.Tool{{Name: "calc", InputSchema: json.RawMessage(`{"type":"object"}`)}},
	}

	out, err := ToCodeWhisperer(req, "cw-model")
	if err != nil {
		t.Fatalf("ToCodeWhisperer: %v", err)
	}

	state := out.ConversationState
	if state.ChatTriggerType != "MANUAL" {
		t.Errorf("chatTriggerType = %s", state.ChatTriggerType)
	}
	if state.ConversationID == "" {
		t.Error("missing conversation id")
	}

	if len(state.History) != 2 {
		t.Fatalf("history = %d entries, want 2", len(state.History))
	}
	first := state.History[0].UserInputMessage
	if first == nil {
		t.Fatal("first history entry is not a user arm")
	}
	if !strings.HasPrefix(first.Content, "be terse\n\n") {
		t.Errorf("system prompt not prepended to first user turn: %q", first.Content)
	}
	if state.History[1].AssistantResponseMessage == nil {
		t.Error("second history entry is not an assistant arm")
	}

	cur := state.CurrentMessage.UserInputMessage
	if cur == nil {
		t.Fatal("currentMessage is not a user arm")
	}
	if cur.Content != "second" {
		t.Errorf("current content = %q", cur.Content)
	}
	if cur.ModelID != "cw-model" || cur.Origin != "AI_EDITOR" {
		t.Errorf("modelId/origin = %s/%s", cur.ModelID, cur.Origin)
	}
	if cur.UserInputMessageContext == nil || len(cur.UserInputMessageContext.Tools) != 1 {
		t.Fatal("tools not attached to current message")
	}
	if cur.UserInputMessageContext.Tools[0].ToolSpecification.Name != "calc" {
		t.Errorf("tool name = %s", cur.UserInputMessageContext.Tools[0].ToolSpecification.Name)
	}
}

func TestToCodeWhispererSystemOnSingleTurn(t *testing.T) {
	req := &domain.MessagesRequest{
		Model:     "claude-sonnet",
		System:    "sys",
		MaxTokens: 100,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{domain.TextBlock("only")}},
		},
	}

	out, err := ToCodeWhisperer(req, "cw-model")
	if err != nil {
		t.Fatalf("ToCodeWhisperer: %v", err)
	}
	if got := out.ConversationState.CurrentMessage.UserInputMessage.Content; got != "sys\n\nonly" {
		t.Errorf("content = %q", got)
	}
}

func TestToCodeWhispererToolResults(t *testing.T) {
	req := &domain.MessagesRequest{
		Model:     "claude-sonnet",
		MaxTokens: 100,
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: []domain.ContentBlock{
				domain.ToolUseBlock("toolu_1", "calc", json.RawMessage(`{"a":1}`)),
			}},
			{Role: domain.RoleUser, Content: []domain.ContentBlock{
				{Type: domain.ContentTypeToolResult, ToolUseID: "toolu_1", Content: json.RawMessage(`"2"`), IsError: false},
				{Type: domain.ContentTypeToolResult, ToolUseID: "toolu_2", Content: json.RawMessage(`"boom"`), IsError: true},
			}},
		},
	}

	out, err := ToCodeWhisperer(req, "cw-model")
	if err != nil {
		t.Fatalf("ToCodeWhisperer: %v", err)
	}

	hist := out.ConversationState.History[0].AssistantResponseMessage
	if hist == nil || len(hist.ToolUses) != 1 || hist.ToolUses[0].ToolUseID != "toolu_1" {
		t.Fatalf("assistant history = %+v", hist)
	}

	results := out.ConversationState.CurrentMessage.UserInputMessage.UserInputMessageContext.ToolResults
	if len(results) != 2 {
		t.Fatalf("got %d tool results, want 2", len(results))
	}
	if results[0].Status != "success" || results[0].Content[0].Text != "2" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Status != "error" {
		t.Errorf("error result status = %s", results[1].Status)
	}
}

func TestToCodeWhispererValidation(t *testing.T) {
	if _, err := ToCodeWhisperer(&domain.MessagesRequest{Model: "m", MaxTokens: 1}, "cw"); err == nil {
		t.Error("expected error for empty messages")
	}

	req := &domain.MessagesRequest{
		Model:     "m",
		MaxTokens: 1,
		Messages: []domain.Message{
			{Role: domain.RoleAssistant, Content: []domain.ContentBlock{domain.TextBlock("x")}},
		},
	}
	if _, err := ToCodeWhisperer(req, "cw"); err == nil {
		t.Error("expected error when last message is not a user turn")
	}
}
