// Package codewhisperer speaks the generateAssistantResponse protocol. The
// request side is JSON; the response side is a checksummed binary event
// stream decoded by frameDecoder.
package codewhisperer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/httputil"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
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

// Complete reads the whole event stream, decodes every frame, and assembles
// the canonical response from the decoded events.
func (c *Client) Complete(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.MessagesResponse, error) {
	resp, err := c.post(ctx, req, model)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp)
	}

	decoder := newFrameDecoder()
	var events []domain.ProviderEvent
	buf := make([]byte, 32<<10)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			decoded, decErr := decoder.Write(buf[:n])
			events = append(events, decoded...)
			if decErr != nil {
				metrics.StreamDecodeErrors.WithLabelValues(c.profile.ID).Inc()
				return nil, decErr
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return nil, &domain.ProviderTimeoutError{Provider: c.profile.ID, Err: readErr}
			}
			break
		}
	}
	events = append(events, decoder.Close()...)

	return normalize.FromEvents(events, model)
}

// Stream decodes frames incrementally and forwards events as they complete.
// The stop reason is left empty on Done so the downstream scanner infers it
// from the blocks it has seen.
func (c *Client) Stream(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.EventStream, error) {
	resp, err := c.post(ctx, req, model)
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
		if err := c.consume(ctx, resp.Body, events); err != nil {
			errs <- err
		}
	}()
	return &domain.EventStream{Events: events, Errs: errs}, nil
}

func (c *Client) consume(ctx context.Context, body io.Reader, out chan<- domain.ProviderEvent) error {
	send := func(ev domain.ProviderEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	decoder := newFrameDecoder()
	buf := make([]byte, 32<<10)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			decoded, decErr := decoder.Write(buf[:n])
			for _, ev := range decoded {
				if !send(ev) {
					return ctx.Err()
				}
			}
			if decErr != nil {
				metrics.StreamDecodeErrors.WithLabelValues(c.profile.ID).Inc()
				return decErr
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return &domain.ProviderTimeoutError{Provider: c.profile.ID, Err: readErr}
			}
			break
		}
	}
	for _, ev := range decoder.Close() {
		if !send(ev) {
			return ctx.Err()
		}
	}
	send(domain.ProviderEvent{Type: domain.EventDone})
	return nil
}

func (c *Client) post(ctx context.Context, req *domain.MessagesRequest, model string) (*http.Response, error) {
	native, err := transform.ToCodeWhisperer(req, model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	build := func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.profile.Endpoint+"/generateAssistantResponse", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.profile.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.profile.APIKey)
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
