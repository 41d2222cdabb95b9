package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

func request(model, text string) *domain.MessagesRequest {
	return &domain.MessagesRequest{
		Model:     model,
		MaxTokens: 100,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: []domain.ContentBlock{domain.TextBlock(text)}},
		},
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint(request("m", "hello"))
	b := Fingerprint(request("m", "hello"))
	if a != b {
		t.Errorf("identical requests produced different keys: %s vs %s", a, b)
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := request("m", "hello")
	variants := []*domain.MessagesRequest{
		request("other-model", "hello"),
		request("m", "different text"),
	}

	withSystem := request("m", "hello")
	withSystem.System = "be terse"
	variants = append(variants, withSystem)

	withTools := request("m", "hello")
	withTools.Tools = []domain.Tool{{Name: "calc"}}
	variants = append(variants, withTools)

	temp := 0.5
	withTemp := request("m", "hello")
	withTemp.Temperature = &temp
	variants = append(variants, withTemp)

	baseKey := Fingerprint(base)
	for i, v := range variants {
		if Fingerprint(v) == baseKey {
			t.Errorf("variant %d collided with base fingerprint", i)
		}
	}
}

func TestInMemoryCacheRoundTrip(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	resp := &domain.MessagesResponse{
		ID:         "msg_1",
		Type:       "message",
		Role:       domain.RoleAssistant,
		Model:      "m",
		Content:    []domain.ContentBlock{domain.TextBlock("hi")},
		StopReason: domain.StopReasonEndTurn,
	}

	key := Fingerprint(request("m", "hello"))
	if _, ok := c.Get(ctx, key); ok {
		t.Fatal("unexpected hit before Set")
	}

	if err := c.Set(ctx, key, resp, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("miss after Set")
	}
	if got.ID != "msg_1" || got.Content[0].Text != "hi" {
		t.Errorf("got %+v", got)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache()
	ctx := context.Background()

	resp := &domain.MessagesResponse{ID: "msg_1"}
	if err := c.Set(ctx, "k", resp, -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("expired entry returned")
	}
}
