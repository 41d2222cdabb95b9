// Package openai speaks the OpenAI-compatible /chat/completions protocol,
// which also covers local inference servers exposing the same surface.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/httputil"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/normalize"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/transform"
	"github.com/google/uuid"
)

type Client struct {
	profile  *registry.ProviderProfile
	client   *http.Client
	maxTries uint
}

func New(profile *registry.ProviderProfile, hc *http.Client, maxTries uint) *Client {
	return &Client{profile: profile, client: hc, maxTries: maxTries}
}

func (c *Client) ID() string { return c.profile.ID }

func (c *Client) Complete(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.MessagesResponse, error) {
	native, err := transform.ToOpenAI(req, model)
	if err != nil {
		return nil, err
	}
	native.Stream = false

	resp, err := c.post(ctx, native)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp)
	}

	var nativeResp transform.OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&nativeResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return normalize.FromOpenAI(&nativeResp, model)
}

func (c *Client) Stream(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.EventStream, error) {
	native, err := transform.ToOpenAI(req, model)
	if err != nil {
		return nil, err
	}
	native.Stream = true

	resp, err := c.post(ctx, native)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.httpError(resp)
	}

	events := make(chan domain.ProviderEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errs)
		defer resp.Body.Close()
		if err := c.consumeSSE(ctx, resp.Body, events); err != nil {
			errs <- err
		}
	}()
	return &domain.EventStream{Events: events, Errs: errs}, nil
}

func (c *Client) post(ctx context.Context, native *transform.OpenAIRequest) (*http.Response, error) {
	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	build := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.Endpoint+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.profile.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.profile.APIKey)
		}
		if native.Stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		return httpReq, nil
	}

	resp, err := httputil.DoWithRetry(ctx, c.client, build, c.maxTries)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) {
			return nil, &domain.ProviderHTTPError{Provider: c.profile.ID, Status: statusErr.Status, Body: statusErr.Body}
		}
		return nil, &domain.ProviderTimeoutError{Provider: c.profile.ID, Err: err}
	}
	return resp, nil
}

func (c *Client) httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.ProviderHTTPError{Provider: c.profile.ID, Status: resp.StatusCode, Body: string(body)}
}

// consumeSSE translates /chat/completions chunks into normalized provider
// events. Tool-call deltas for a given index share one block; a change of
// index or a return to text closes the open block.
func (c *Client) consumeSSE(ctx context.Context, body io.Reader, out chan<- domain.ProviderEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)

	curTool := -1
	started := map[int]bool{}
	var usage *domain.Usage
	var finish string

	send := func(ev domain.ProviderEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk transform.OpenAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = &domain.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
		if choice.Delta == nil {
			continue
		}

		for _, tc := range choice.Delta.ToolCalls {
			if tc.Index != curTool || !started[tc.Index] {
				if curTool >= 0 && started[curTool] && tc.Index != curTool {
					if !send(domain.ProviderEvent{Type: domain.EventBlockStop}) {
						return ctx.Err()
					}
				}
				curTool = tc.Index
			}
			if !started[tc.Index] {
				id := tc.ID
				if id == "" {
					id = "toolu_" + uuid.NewString()
				}
				if !send(domain.ProviderEvent{
					Type:      domain.EventToolUseStart,
					ToolUseID: id,
					ToolName:  tc.Function.Name,
				}) {
					return ctx.Err()
				}
				started[tc.Index] = true
			}
			if tc.Function.Arguments != "" {
				if !send(domain.ProviderEvent{Type: domain.EventToolInputDelta, Fragment: tc.Function.Arguments}) {
					return ctx.Err()
				}
			}
		}

		if choice.Delta.Content != "" {
			if curTool >= 0 && started[curTool] {
				if !send(domain.ProviderEvent{Type: domain.EventBlockStop}) {
					return ctx.Err()
				}
				curTool = -1
			}
			if !send(domain.ProviderEvent{Type: domain.EventTextDelta, Text: choice.Delta.Content}) {
				return ctx.Err()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	var reason string
	if finish != "" {
		reason = normalize.MapOpenAIFinishReason(finish)
	}
	send(domain.ProviderEvent{Type: domain.EventDone, StopReason: reason, Usage: usage})
	return nil
}
