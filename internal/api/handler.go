// Package api is the HTTP surface: the /v1/messages endpoint, health and
// model listings, and the metrics exporter. Requests and responses use the
// canonical schema regardless of which backend served them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/cache"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/health"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/normalize"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/provider"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/ratelimit"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/recovery"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/registry"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/router"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/telemetry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HandlerConfig struct {
	Router       *router.Router
	Registry     *registry.Registry
	Clients      map[string]provider.Client
	Health       *health.Monitor
	RateLimiter  ratelimit.RateLimiter
	RateLimitRPM int
	Cache        cache.Cache
	CacheTTL     time.Duration

	// RequestTimeout bounds non-streaming requests end to end. Zero means no
	// bound beyond the client's own deadline. Streams are not subject to it.
	RequestTimeout time.Duration
}

type Handler struct {
	router       *router.Router
	registry     *registry.Registry
	clients      map[string]provider.Client
	health       *health.Monitor
	rateLimiter  ratelimit.RateLimiter
	rateLimitRPM int
	cache          cache.Cache
	cacheTTL       time.Duration
	requestTimeout time.Duration
	mux            *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	h := &Handler{
		router:         cfg.Router,
		registry:       cfg.Registry,
		clients:        cfg.Clients,
		health:         cfg.Health,
		rateLimiter:    cfg.RateLimiter,
		rateLimitRPM:   cfg.RateLimitRPM,
		cache:          cfg.Cache,
		cacheTTL:       cacheTTL,
		requestTimeout: cfg.RequestTimeout,
		mux:            http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/messages", h.handleMessages)
	h.mux.HandleFunc("GET /v1/models", h.handleListModels)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/ready", h.handleHealthReady)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-ID", requestID)

	ctx, span := telemetry.StartSpan(ctx, "messages")
	defer span.End()

	if h.rateLimiter != nil && h.rateLimitRPM > 0 {
		caller := callerKey(r)
		allowed, remaining, resetAt, err := h.rateLimiter.Allow(ctx, caller, h.rateLimitRPM)
		if err != nil {
			slog.Error("rate limiter error", "error", err, "request_id", requestID)
			writeError(w, http.StatusInternalServerError, "api_error", "internal error")
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(h.rateLimitRPM))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", resetAt.Format(time.RFC3339))
		if !allowed {
			metrics.RateLimitHits.Inc()
			slog.Warn("rate limit exceeded", "caller", caller, "request_id", requestID)
			writeError(w, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
			return
		}
	}

	var req domain.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if err := validateRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	decisions, err := h.router.Route(&req)
	if err != nil {
		slog.Error("routing failed", "error", err, "model", req.Model, "request_id", requestID)
		writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no provider available")
		return
	}

	category := string(decisions[0].Category)
	telemetry.AddRequestAttributes(span, category, decisions[0].Provider.ID, decisions[0].Model, requestID)
	slog.Debug("routed",
		"request_id", requestID,
		"category", category,
		"rule", decisions[0].RuleID,
		"provider", decisions[0].Provider.ID,
		"model", decisions[0].Model,
		"candidates", len(decisions),
	)

	if req.Stream {
		h.handleStreaming(ctx, w, &req, decisions, requestID, start)
		return
	}

	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	skipCache := r.Header.Get("X-Skip-Cache") == "true"
	var cacheKey string
	if h.cache != nil && !skipCache {
		cacheKey = cache.Fingerprint(&req)
		if cached, ok := h.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.Inc()
			telemetry.AddCacheAttribute(span, true)
			slog.Info("cache hit",
				"request_id", requestID,
				"model", req.Model,
				"latency_ms", time.Since(start).Milliseconds(),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			json.NewEncoder(w).Encode(cached)
			return
		}
		metrics.CacheMisses.Inc()
	}

	resp, used, err := h.complete(ctx, &req, decisions, requestID)
	if err != nil {
		status, errType, msg := classifyError(err)
		slog.Error("request failed", "error", err, "request_id", requestID)
		metrics.RecordRequest("", req.Model, category, "error", time.Since(start).Seconds())
		writeError(w, status, errType, msg)
		return
	}

	recovered := recovery.RecoverResponse(resp)
	if recovered > 0 {
		slog.Info("recovered embedded tool calls", "count", recovered, "request_id", requestID)
	}
	normalize.EnsureUsage(resp, &req)
	telemetry.AddTokenAttributes(span, resp.Usage.InputTokens, resp.Usage.OutputTokens)

	if h.cache != nil && cacheKey != "" {
		if err := h.cache.Set(ctx, cacheKey, resp, h.cacheTTL); err != nil {
			slog.Warn("failed to cache response", "error", err, "request_id", requestID)
		}
	}

	latency := time.Since(start)
	metrics.RecordRequest(used.Provider.ID, used.Model, category, "ok", latency.Seconds())
	slog.Info("request completed",
		"request_id", requestID,
		"provider", used.Provider.ID,
		"model", used.Model,
		"category", category,
		"stop_reason", resp.StopReason,
		"latency_ms", latency.Milliseconds(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	json.NewEncoder(w).Encode(resp)
}

// complete walks the failover candidates until one succeeds or a
// non-retryable error ends the attempt.
func (h *Handler) complete(ctx context.Context, req *domain.MessagesRequest, decisions []router.Decision, requestID string) (*domain.MessagesResponse, *router.Decision, error) {
	var lastErr error
	for i := range decisions {
		d := &decisions[i]
		client, ok := h.clients[d.Provider.ID]
		if !ok {
			lastErr = domain.ErrProviderNotFound
			continue
		}

		resp, err := client.Complete(ctx, req, d.Model)
		if err == nil {
			h.recordSuccess(ctx, d.Provider.ID)
			return resp, d, nil
		}

		lastErr = err
		h.recordFailure(ctx, d.Provider.ID, err)
		if !domain.IsRetryable(err) {
			return nil, nil, err
		}
		if i < len(decisions)-1 {
			metrics.RecordFailover(string(d.Category), d.Provider.ID)
			slog.Warn("provider failed, trying fallback",
				"provider", d.Provider.ID,
				"error", err,
				"request_id", requestID,
			)
		}
	}
	return nil, nil, lastErr
}

func (h *Handler) recordSuccess(ctx context.Context, providerID string) {
	if h.health != nil {
		h.health.RecordSuccess(ctx, providerID)
	}
}

func (h *Handler) recordFailure(ctx context.Context, providerID string, err error) {
	var httpErr *domain.ProviderHTTPError
	switch {
	case errors.As(err, &httpErr):
		metrics.RecordProviderError(providerID, "http_"+strconv.Itoa(httpErr.Status))
	default:
		metrics.RecordProviderError(providerID, "transport")
	}
	if h.health != nil {
		h.health.RecordFailure(ctx, providerID)
	}
}

func validateRequest(req *domain.MessagesRequest) error {
	if req.Model == "" {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidRequest)
	}
	if len(req.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", domain.ErrInvalidRequest)
	}
	if req.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", domain.ErrInvalidRequest)
	}
	return nil
}

// classifyError maps pipeline errors onto client-facing responses. Provider
// response bodies never appear in the message.
func classifyError(err error) (status int, errType, msg string) {
	var tve *domain.TransformValidationError
	if errors.As(err, &tve) {
		return http.StatusBadRequest, "invalid_request_error", tve.Detail
	}
	if errors.Is(err, domain.ErrRoutingExhausted) || errors.Is(err, domain.ErrProviderNotFound) {
		return http.StatusServiceUnavailable, "overloaded_error", "no provider available"
	}
	var httpErr *domain.ProviderHTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Status == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, "rate_limit_error", "upstream rate limited"
		}
		return http.StatusBadGateway, "api_error", "upstream provider error"
	}
	var timeoutErr *domain.ProviderTimeoutError
	if errors.As(err, &timeoutErr) {
		return http.StatusGatewayTimeout, "api_error", "upstream provider timeout"
	}
	var decodeErr *domain.StreamDecodeError
	if errors.As(err, &decodeErr) {
		return http.StatusBadGateway, "api_error", "upstream stream corrupted"
	}
	return http.StatusInternalServerError, "api_error", "internal error"
}

// callerKey identifies the caller for rate limiting.
func callerKey(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return "anonymous"
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})
}
