// Package stream implements Server-Sent Events (SSE) streaming of channel
// verdicts. Clients connect via GET /api/v1/stream/verdicts and receive one
// message per acquisition verdict.
//
// SSE message format:
//
//	data: {"type":"verdict","channel_id":2,"signal":"G07-1C","outcome":"success",...}\n\n
//
// First message is always a snapshot of every channel:
//
//	data: {"type":"snapshot","channels":[...]}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnssacq/internal/acquisition"
	"github.com/star/gnssacq/internal/httputil"
	"github.com/star/gnssacq/internal/metrics"
	"github.com/star/gnssacq/internal/receiver"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           // Max concurrent streams per IP (default: 10).
	MaxConcurrent      int           // Max concurrent streams overall (default: 256).
	KeepaliveInterval  time.Duration // Keep-alive ping interval (default: 30s).
	Buffer             int           // Events buffered per stream (default: 64).
	TrustProxy         bool
}

// Snapshotter provides the channel table sent when a stream opens.
type Snapshotter interface {
	Status() []receiver.ChannelStatus
}

// Handler manages SSE streaming connections.
type Handler struct {
	hub      *Hub
	channels Snapshotter
	config   Config
	limiter  *streamLimiter
	logger   *slog.Logger
}

// NewHandler creates a streaming handler reading from hub.
func NewHandler(hub *Hub, channels Snapshotter, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP < 1 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		hub:      hub,
		channels: channels,
		config:   config,
		limiter:  newStreamLimiter(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:   logger,
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseFilter builds the event filter from the channel and outcome query
// parameters. A nil filter passes everything.
func parseFilter(r *http.Request) (func(receiver.Event) bool, error) {
	channel := -1
	if v := r.URL.Query().Get("channel"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid channel parameter, must be a non-negative integer")
		}
		channel = n
	}
	outcome := r.URL.Query().Get("outcome")
	if outcome != "" {
		if outcome != acquisition.OutcomeSuccess.String() && outcome != acquisition.OutcomeFail.String() {
			return nil, fmt.Errorf("invalid outcome parameter, must be success or fail")
		}
	}
	if channel < 0 && outcome == "" {
		return nil, nil
	}
	return func(ev receiver.Event) bool {
		if channel >= 0 && ev.ChannelID != channel {
			return false
		}
		return outcome == "" || ev.Outcome == outcome
	}, nil
}

// HandleVerdicts serves the SSE verdict stream.
// GET /api/v1/stream/verdicts?channel=2&outcome=success
func (h *Handler) HandleVerdicts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	// Rate limiting: enforce concurrent stream limit per IP.
	ip := httputil.ClientIP(r, h.config.TrustProxy)
	if !h.limiter.acquire(ip) {
		metrics.IncStreamErrors("rate_limit")
		h.logger.Warn("stream rate limit exceeded",
			"remote_ip", ip,
			"current_count", h.limiter.count(ip),
		)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "too many concurrent streams"})
		return
	}

	sub, unsubscribe := h.hub.subscribe(filter)
	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	startTime := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
	)

	rc := http.NewResponseController(w)
	c := &client{w: w, rc: rc, ip: ip, logger: h.logger}

	defer func() {
		unsubscribe()
		h.limiter.release(ip)
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		h.logger.Info("stream disconnected",
			"remote_ip", ip,
			"duration_seconds", int(time.Since(startTime).Seconds()),
			"messages", c.messagesSent,
		)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		metrics.IncStreamErrors("no_flush")
		h.logger.Warn("streaming not supported", "remote_ip", ip, "error", err)
		return
	}

	// Clear the server's default WriteTimeout for this connection.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Jittered retry interval (3-7s) spreads reconnects after a restart.
	fmt.Fprintf(w, "retry: %d\n\n", 3000+rand.IntN(4000))

	if err := c.sendJSON(snapshotMessage{Type: "snapshot", Channels: h.channels.Status()}); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (snapshot)", "remote_ip", ip, "error", err)
		return
	}

	keepalive := time.NewTicker(h.config.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-sub.ch:
			data, err := encodeEvent(ev)
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := c.sendRaw(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}
			keepalive.Reset(h.config.KeepaliveInterval)

		case <-keepalive.C:
			if err := c.sendKeepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

// SSE message payload types.

type snapshotMessage struct {
	Type     string                   `json:"type"`
	Channels []receiver.ChannelStatus `json:"channels"`
}

type verdictMessage struct {
	Type string `json:"type"`
	receiver.Event
}
