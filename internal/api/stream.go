package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/metrics"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/normalize"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/recovery"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/router"
	"github.com/Jasonzhangf/route-claudecode-sub002/internal/stream"
)

// sseWriter frames one event per write and flushes immediately, so the
// client sees each chunk as the provider produces it.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) WriteEvent(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("event: " + event + "\ndata: " + string(payload) + "\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// handleStreaming opens the backend stream before sending any SSE bytes, so
// setup failures can still fail over or return a plain error response. Once
// the first event is written the stream always ends with message_stop.
func (h *Handler) handleStreaming(ctx context.Context, w http.ResponseWriter, req *domain.MessagesRequest, decisions []router.Decision, requestID string, start time.Time) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	var es *domain.EventStream
	var used *router.Decision
	var lastErr error
	for i := range decisions {
		d := &decisions[i]
		client, ok := h.clients[d.Provider.ID]
		if !ok {
			lastErr = domain.ErrProviderNotFound
			continue
		}
		opened, err := client.Stream(ctx, req, d.Model)
		if err == nil {
			es = opened
			used = d
			break
		}
		lastErr = err
		h.recordFailure(ctx, d.Provider.ID, err)
		if !domain.IsRetryable(err) {
			break
		}
		if i < len(decisions)-1 {
			metrics.RecordFailover(string(d.Category), d.Provider.ID)
			slog.Warn("stream setup failed, trying fallback",
				"provider", d.Provider.ID,
				"error", err,
				"request_id", requestID,
			)
		}
	}
	if es == nil {
		status, errType, msg := classifyError(lastErr)
		slog.Error("stream setup failed", "error", lastErr, "request_id", requestID)
		writeError(w, status, errType, msg)
		return
	}

	category := string(used.Category)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	emitter := stream.NewEmitter(
		&sseWriter{w: w, flusher: flusher},
		normalize.NewMessageID(),
		req.Model,
		router.EstimateTokens(req),
	)
	scanner := recovery.NewStreamScanner()

	finish := func(clean bool) {
		if !emitter.Stopped() {
			for _, out := range scanner.Flush() {
				if err := emitter.Emit(out); err != nil {
					break
				}
			}
			emitter.Cancel()
		}
		status := "ok"
		if clean {
			h.recordSuccess(ctx, used.Provider.ID)
		} else {
			status = "error"
		}
		latency := time.Since(start)
		metrics.RecordRequest(used.Provider.ID, used.Model, category, status, latency.Seconds())
		slog.Info("streaming request completed",
			"request_id", requestID,
			"provider", used.Provider.ID,
			"model", used.Model,
			"category", category,
			"clean", clean,
			"latency_ms", latency.Milliseconds(),
		)
	}

	events := es.Events
	errs := es.Errs
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				finish(true)
				return
			}
			for _, out := range scanner.Feed(ev) {
				if err := emitter.Emit(out); err != nil {
					slog.Warn("client write failed", "error", err, "request_id", requestID)
					return
				}
			}
			if emitter.Stopped() {
				finish(true)
				return
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				slog.Error("stream error", "error", err, "request_id", requestID)
				h.recordFailure(ctx, used.Provider.ID, err)
				finish(false)
				return
			}
		case <-ctx.Done():
			// Client went away; nothing more can be written.
			slog.Debug("client disconnected", "request_id", requestID)
			return
		}
	}
}
