package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
)

const streamRequest = `{"model":"m-1","max_tokens":100,"stream":true,"messages":[{"role":"user","content":"weather in oslo?"}]}`

func geminiProfile(id, endpoint string, weight int) *registry.ProviderProfile {
	return &registry.ProviderProfile{
		ID:       id,
		Protocol: registry.ProtocolGemini,
		Endpoint: endpoint,
		Weight:   weight,
		Models:   []string{"m-1"},
	}
}

// geminiSSE serves the given data payloads as one SSE stream.
func geminiSSE(chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
		}
	}
}

type sseEvent struct {
	name string
	data map[string]any
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var name string
	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
				t.Fatalf("bad data line %q: %v", line, err)
			}
			out = append(out, sseEvent{name: name, data: data})
		}
	}
	return out
}

func eventNames(events []sseEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

func countEvents(events []sseEvent, name string) int {
	n := 0
	for _, ev := range events {
		if ev.name == name {
			n++
		}
	}
	return n
}

func streamStopReason(t *testing.T, events []sseEvent) string {
	t.Helper()
	for _, ev := range events {
		if ev.name == "message_delta" {
			delta := ev.data["delta"].(map[string]any)
			reason, _ := delta["stop_reason"].(string)
			return reason
		}
	}
	t.Fatal("no message_delta in stream")
	return ""
}

func TestStreamingToolUseEndsWithMessageStop(t *testing.T) {
	backend := httptest.NewServer(geminiSSE(
		`{"candidates":[{"content":{"parts":[{"text":"Checking the forecast. "}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":7}}`,
	))
	defer backend.Close()

	h := newGateway(t,
		[]*registry.ProviderProfile{geminiProfile("g1", backend.URL, 1)},
		defaultRoute(registry.Target{Provider: "g1", Model: "m-1"}),
		nil,
	)

	w := postMessages(h, streamRequest, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s", ct)
	}

	events := parseSSE(t, w.Body.String())
	names := eventNames(events)
	if len(names) == 0 || names[0] != "message_start" {
		t.Fatalf("stream did not open with message_start: %v", names)
	}
	if names[len(names)-1] != "message_stop" {
		t.Fatalf("stream did not end with message_stop: %v", names)
	}
	if n := countEvents(events, "message_stop"); n != 1 {
		t.Errorf("message_stop count = %d, want 1", n)
	}
	if n := countEvents(events, "message_delta"); n != 1 {
		t.Errorf("message_delta count = %d, want 1", n)
	}
	if reason := streamStopReason(t, events); reason != "tool_use" {
		t.Errorf("stop_reason = %s, want tool_use", reason)
	}

	var sawTool bool
	for _, ev := range events {
		if ev.name != "content_block_start" {
			continue
		}
		block := ev.data["content_block"].(map[string]any)
		if block["type"] == "tool_use" {
			sawTool = true
			if block["name"] != "get_weather" {
				t.Errorf("tool name = %v", block["name"])
			}
		}
	}
	if !sawTool {
		t.Error("no tool_use content_block_start in stream")
	}
}

func TestStreamingTextStream(t *testing.T) {
	backend := httptest.NewServer(geminiSSE(
		`{"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"lo"}]},"finishReason":"STOP"}]}`,
	))
	defer backend.Close()

	h := newGateway(t,
		[]*registry.ProviderProfile{geminiProfile("g1", backend.URL, 1)},
		defaultRoute(registry.Target{Provider: "g1", Model: "m-1"}),
		nil,
	)

	w := postMessages(h, streamRequest, nil)
	events := parseSSE(t, w.Body.String())

	var text strings.Builder
	for _, ev := range events {
		if ev.name != "content_block_delta" {
			continue
		}
		delta := ev.data["delta"].(map[string]any)
		if delta["type"] == "text_delta" {
			text.WriteString(delta["text"].(string))
		}
	}
	if text.String() != "hello" {
		t.Errorf("assembled text = %q", text.String())
	}
	if reason := streamStopReason(t, events); reason != "end_turn" {
		t.Errorf("stop_reason = %s, want end_turn", reason)
	}
}

func TestStreamingSetupFailover(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusInternalServerError)
	}))
	defer primary.Close()
	backup := httptest.NewServer(geminiSSE(
		`{"candidates":[{"content":{"parts":[{"text":"recovered"}]},"finishReason":"STOP"}]}`,
	))
	defer backup.Close()

	h := newGateway(t,
		[]*registry.ProviderProfile{
			geminiProfile("primary", primary.URL, 1),
			geminiProfile("backup", backup.URL, 2),
		},
		defaultRoute(
			registry.Target{Provider: "primary", Model: "m-1"},
			registry.Target{Provider: "backup", Model: "m-1"},
		),
		nil,
	)

	w := postMessages(h, streamRequest, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	events := parseSSE(t, w.Body.String())
	names := eventNames(events)
	if len(names) == 0 || names[len(names)-1] != "message_stop" {
		t.Fatalf("stream = %v", names)
	}
}

func TestStreamingSetupFailureReturnsError(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer backend.Close()

	h := newGateway(t,
		[]*registry.ProviderProfile{geminiProfile("g1", backend.URL, 1)},
		defaultRoute(registry.Target{Provider: "g1", Model: "m-1"}),
		nil,
	)

	w := postMessages(h, streamRequest, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "api_error") {
		t.Errorf("body = %s", w.Body.String())
	}
}
