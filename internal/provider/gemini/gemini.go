// Package gemini speaks the generateContent protocol. Streaming uses the
// alt=sse variant, which frames each GenerateContentResponse as one SSE data
// line.
package gemini

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
	native, err := transform.ToGemini(req, model)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, native, fmt.Sprintf("/models/%s:generateContent", model))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp)
	}

	var nativeResp transform.GeminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&nativeResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return normalize.FromGemini(&nativeResp, model)
}

func (c *Client) Stream(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.EventStream, error) {
	native, err := transform.ToGemini(req, model)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, native, fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", model))
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

func (c *Client) post(ctx context.Context, native *transform.GeminiRequest, path string) (*http.Response, error) {
	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.profile.Endpoint + path
	if c.profile.APIKey != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		url += sep + "key=" + c.profile.APIKey
	}
	build := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
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

// consumeSSE walks the streamed candidates. Each functionCall part arrives
// whole, so it expands to a start, one input fragment, and a block stop.
func (c *Client) consumeSSE(ctx context.Context, body io.Reader, out chan<- domain.ProviderEvent) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)

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

		var chunk transform.GeminiResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			continue
		}
		if chunk.UsageMetadata != nil {
			usage = &domain.Usage{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		candidate := chunk.Candidates[0]
		if candidate.FinishReason != "" {
			finish = candidate.FinishReason
		}
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if !send(domain.ProviderEvent{Type: domain.EventTextDelta, Text: part.Text}) {
					return ctx.Err()
				}
			}
			if part.FunctionCall != nil {
				args := part.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				id := normalize.StableToolID("", part.FunctionCall.Name, args)
				if !send(domain.ProviderEvent{
					Type:      domain.EventToolUseStart,
					ToolUseID: id,
					ToolName:  part.FunctionCall.Name,
				}) {
					return ctx.Err()
				}
				if !send(domain.ProviderEvent{Type: domain.EventToolInputDelta, Fragment: string(args)}) {
					return ctx.Err()
				}
				if !send(domain.ProviderEvent{Type: domain.EventBlockStop}) {
					return ctx.Err()
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}

	var reason string
	if finish != "" {
		reason = normalize.MapGeminiFinishReason(finish)
	}
	send(domain.ProviderEvent{Type: domain.EventDone, StopReason: reason, Usage: usage})
	return nil
}
