package normalize

import (
	"encoding/json"
	"testing"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/transform"
)

func TestMapOpenAIFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"stop", domain.StopReasonEndTurn},
		{"", domain.StopReasonEndTurn},
		{"length", domain.StopReasonMaxTokens},
		{"tool_calls", domain.StopReasonToolUse},
		{"function_call", domain.StopReasonToolUse},
		{"content_filter", domain.StopReasonStopSequence},
		{"unknown_value", domain.StopReasonEndTurn},
	}
	for _, tt := range tests {
		if got := MapOpenAIFinishReason(tt.in); got != tt.want {
			t.Errorf("MapOpenAIFinishReason(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMapGeminiFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"STOP", domain.StopReasonEndTurn},
		{"OTHER", domain.StopReasonEndTurn},
		{"", domain.StopReasonEndTurn},
		{"MAX_TOKENS", domain.StopReasonMaxTokens},
		{"SAFETY", domain.StopReasonStopSequence},
		{"RECITATION", domain.StopReasonStopSequence},
		{"MALFORMED_FUNCTION_CALL", domain.StopReasonToolUse},
	}
	for _, tt := range tests {
		if got := MapGeminiFinishReason(tt.in); got != tt.want {
			t.Errorf("MapGeminiFinishReason(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestStableToolID(t *testing.T) {
	if got := StableToolID("call_abc", "f", []byte(`{}`)); got != "call_abc" {
		t.Errorf("supplied id not kept: %s", got)
	}

	a := StableToolID("", "f", []byte(`{"x":1}`))
	b := StableToolID("", "f", []byte(`{"x":1}`))
	if a != b {
		t.Errorf("derived ids differ: %s vs %s", a, b)
	}
	c := StableToolID("", "f", []byte(`{"x":2}`))
	if a == c {
		t.Error("different inputs produced the same id")
	}
}

func TestFromOpenAIToolCallsForceToolUse(t *testing.T) {
	resp := &transform.OpenAIResponse{
		ID: "chatcmpl-1",
		Choices: []transform.OpenAIChoice{{
			Message: &transform.OpenAIRespMessage{
				Content: "calling",
				ToolCalls: []transform.OpenAIToolCall{{
					ID:       "call_1",
					Type:     "function",
					Function: transform.OpenAIFunctionCall{Name: "f", Arguments: `{"a":1}`},
				}},
			},
			// Declared finish reason disagrees with the content.
			FinishReason: "stop",
		}},
		Usage: &transform.OpenAIUsage{PromptTokens: 10, CompletionTokens: 5},
	}

	out, err := FromOpenAI(resp, "m")
	if err != nil {
		t.Fatalf("FromOpenAI: %v", err)
	}
	if out.StopReason != domain.StopReasonToolUse {
		t.Errorf("stop_reason = %s, want tool_use", out.StopReason)
	}
	if len(out.Content) != 2 {
		t.Fatalf("got %d blocks, want 2", len(out.Content))
	}
	if out.Content[1].ID != "call_1" || out.Content[1].Name != "f" {
		t.Errorf("tool block = %+v", out.Content[1])
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestFromOpenAIEmptyChoices(t *testing.T) {
	if _, err := FromOpenAI(&transform.OpenAIResponse{}, "m"); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestFromGeminiMergesTextAroundCalls(t *testing.T) {
	resp := &transform.GeminiResponse{
		Candidates: []transform.GeminiCandidate{{
			Content: &transform.GeminiContent{
				Role: "model",
				Parts: []transform.GeminiPart{
					{Text: "first "},
					{Text: "second"},
					{FunctionCall: &transform.GeminiFunctionCall{Name: "f", Args: json.RawMessage(`{"a":1}`)}},
					{Text: "after"},
				},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: &transform.GeminiUsageMetadata{PromptTokenCount: 7, CandidatesTokenCount: 3},
	}

	out, err := FromGemini(resp, "m")
	if err != nil {
		t.Fatalf("FromGemini: %v", err)
	}
	if len(out.Content) != 3 {
		t.Fatalf("got %d blocks, want 3: %+v", len(out.Content), out.Content)
	}
	if out.Content[0].Text != "first second" {
		t.Errorf("merged text = %q", out.Content[0].Text)
	}
	if out.Content[1].Type != domain.ContentTypeToolUse || out.Content[1].Name != "f" {
		t.Errorf("tool block = %+v", out.Content[1])
	}
	if out.Content[2].Text != "after" {
		t.Errorf("trailing text = %q", out.Content[2].Text)
	}
	if out.StopReason != domain.StopReasonToolUse {
		t.Errorf("stop_reason = %s, want tool_use forced by functionCall", out.StopReason)
	}
}

func TestFromEventsAssembly(t *testing.T) {
	events := []domain.ProviderEvent{
		{Type: domain.EventTextDelta, Text: "hel"},
		{Type: domain.EventTextDelta, Text: "lo"},
		{Type: domain.EventToolUseStart, ToolUseID: "toolu_1", ToolName: "f"},
		{Type: domain.EventToolInputDelta, Fragment: `{"a":`},
		{Type: domain.EventToolInputDelta, Fragment: `1}`},
		{Type: domain.EventBlockStop},
		{Type: domain.EventDone, Usage: &domain.Usage{InputTokens: 4, OutputTokens: 2}},
	}

	out, err := FromEvents(events, "m")
	if err != nil {
		t.Fatalf("FromEvents: %v", err)
	}
	if len(out.Content) != 2 {
		t.Fatalf("got %d blocks, want 2: %+v", len(out.Content), out.Content)
	}
	if out.Content[0].Text != "hello" {
		t.Errorf("text = %q", out.Content[0].Text)
	}
	if string(out.Content[1].Input) != `{"a":1}` {
		t.Errorf("tool input = %s", out.Content[1].Input)
	}
	if out.StopReason != domain.StopReasonToolUse {
		t.Errorf("stop_reason = %s", out.StopReason)
	}
	if out.Usage.InputTokens != 4 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestFromEventsUnterminatedTool(t *testing.T) {
	events := []domain.ProviderEvent{
		{Type: domain.EventToolUseStart, ToolUseID: "toolu_1", ToolName: "f"},
		{Type: domain.EventToolInputDelta, Fragment: `{"a":1}`},
		// Stream ended without BlockStop or Done.
	}
	out, err := FromEvents(events, "m")
	if err != nil {
		t.Fatalf("FromEvents: %v", err)
	}
	if len(out.Content) != 1 || out.Content[0].Type != domain.ContentTypeToolUse {
		t.Fatalf("content = %+v", out.Content)
	}
	if out.StopReason != domain.StopReasonToolUse {
		t.Errorf("stop_reason = %s", out.StopReason)
	}
}

func TestEnsureUsageFillsMissingCounts(t *testing.T) {
	req := &domain.MessagesRequest{
		Model:     "m",
		MaxTokens: 10,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{domain.TextBlock("12345678")}},
		},
	}
	resp := &domain.MessagesResponse{
		Content: []domain.ContentBlock{domain.TextBlock("abcd")},
	}

	EnsureUsage(resp, req)
	if resp.Usage.InputTokens != 2 {
		t.Errorf("input_tokens = %d, want 2", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 1 {
		t.Errorf("output_tokens = %d, want 1", resp.Usage.OutputTokens)
	}

	// Provider-reported numbers are never overwritten.
	resp.Usage = domain.Usage{InputTokens: 100, OutputTokens: 50}
	EnsureUsage(resp, req)
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 50 {
		t.Errorf("usage overwritten: %+v", resp.Usage)
	}
}
