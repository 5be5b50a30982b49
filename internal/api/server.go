// Package api serves the receiver's status and control surface over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/gnssacq/internal/assist"
	"github.com/star/gnssacq/internal/auth"
	"github.com/star/gnssacq/internal/gnss"
	"github.com/star/gnssacq/internal/health"
	"github.com/star/gnssacq/internal/httputil"
	"github.com/star/gnssacq/internal/metrics"
	"github.com/star/gnssacq/internal/receiver"
	"github.com/star/gnssacq/internal/stream"
)

// Channels is the part of the receiver bank the API needs.
type Channels interface {
	Status() []receiver.ChannelStatus
	ChannelStatus(id int) (receiver.ChannelStatus, error)
	Restart(id int) error
}

// Options carries the optional collaborators of the server.
type Options struct {
	Auth       auth.Config
	TrustProxy bool
	Hints      *assist.Store   // nil disables /api/v1/assist
	Ready      []health.Check  // all must pass for /readyz
	Stream     *stream.Handler // nil disables /api/v1/stream/verdicts
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, channels Channels, opts Options) *Server {
	mux := http.NewServeMux()

	// Register routes.
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(opts.Ready...))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/channels", listChannelsHandler(channels))
	mux.HandleFunc("GET /api/v1/channels/{id}", channelHandler(channels))
	mux.HandleFunc("POST /api/v1/channels/{id}/restart", restartHandler(logger, channels))
	mux.HandleFunc("GET /api/v1/assist/{signal}", assistHandler(opts.Hints))
	if opts.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/verdicts", opts.Stream.HandleVerdicts)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(opts.Auth)(handler)
	handler = loggingMiddleware(logger, opts.TrustProxy)(handler)
	handler = metrics.Middleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func listChannelsHandler(channels Channels) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := channels.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"count":    len(st),
			"channels": st,
		})
	}
}

func channelID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 {
		writeError(w, http.StatusBadRequest, "channel id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

func channelHandler(channels Channels) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := channelID(w, r)
		if !ok {
			return
		}
		st, err := channels.ChannelStatus(id)
		if errors.Is(err, receiver.ErrUnknownChannel) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func restartHandler(logger *slog.Logger, channels Channels) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := channelID(w, r)
		if !ok {
			return
		}
		if err := channels.Restart(id); err != nil {
			if errors.Is(err, receiver.ErrUnknownChannel) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.Info("channel restart requested", "component", "api", "channel_id", id)
		writeJSON(w, http.StatusAccepted, map[string]any{"channel_id": id, "restarting": true})
	}
}

type hintResponse struct {
	Signal        string    `json:"signal"`
	DopplerHz     float64   `json:"doppler_hz"`
	UncertaintyHz float64   `json:"uncertainty_hz"`
	ElevationDeg  float64   `json:"elevation_deg"`
	ComputedAt    time.Time `json:"computed_at"`
	Source        string    `json:"source,omitempty"`
}

func assistHandler(hints *assist.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hints == nil {
			writeError(w, http.StatusServiceUnavailable, "assistance disabled")
			return
		}
		id, err := gnss.ParseSignalID(r.PathValue("signal"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h, ok := hints.Lookup(id)
		if !ok {
			writeError(w, http.StatusNotFound, "no assistance for "+id.String())
			return
		}
		writeJSON(w, http.StatusOK, hintResponse{
			Signal:        id.String(),
			DopplerHz:     h.DopplerHz,
			UncertaintyHz: h.UncertaintyHz,
			ElevationDeg:  h.ElevationDeg,
			ComputedAt:    h.ComputedAt,
			Source:        h.Source,
		})
	}
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}
