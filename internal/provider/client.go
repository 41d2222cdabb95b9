// Package provider defines the client interface the request pipeline calls
// and constructs protocol-specific implementations from provider profiles.
package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/provider/codewhisperer"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/provider/gemini"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/provider/openai"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
)

// Client is one backend. Complete performs a unary call and returns the
// normalized canonical response before tool-call recovery. Stream opens the
// call and returns once the connection is established, so setup failures
// remain eligible for router failover; events then flow until Events closes.
type Client interface {
	ID() string
	Complete(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.MessagesResponse, error)
	Stream(ctx context.Context, req *domain.MessagesRequest, model string) (*domain.EventStream, error)
}

// NewClient builds the client for a profile.
func NewClient(profile *registry.ProviderProfile, hc *http.Client, maxTries uint) (Client, error) {
	switch profile.Protocol {
	case registry.ProtocolOpenAI:
		return openai.New(profile, hc, maxTries), nil
	case registry.ProtocolGemini:
		return gemini.New(profile, hc, maxTries), nil
	case registry.ProtocolCodeWhisperer:
		return codewhisperer.New(profile, hc, maxTries), nil
	default:
		return nil, fmt.Errorf("%w: protocol %q", domain.ErrProviderNotFound, profile.Protocol)
	}
}
