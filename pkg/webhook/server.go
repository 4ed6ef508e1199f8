// Package webhook exposes the provider callback endpoints that feed events
// into the orchestrator.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/harunnryd/callscribe/pkg/events"
	"github.com/harunnryd/callscribe/pkg/logging"
	"github.com/harunnryd/callscribe/pkg/orchestrator"
)

// EventHandler consumes decoded provider events.
type EventHandler interface {
	Handle(ctx context.Context, ev events.Event) orchestrator.Outcome
}

type Config struct {
	WebhookPath         string
	RecordingSavedPath  string
	TwilioStatusPath    string
	TwilioRecordingPath string
	MonitorPath         string

	// AuthToken enables Twilio signature validation when set.
	AuthToken string
	// PublicURL is the externally visible base used to rebuild signed URLs.
	PublicURL string

	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.WebhookPath == "" {
		c.WebhookPath = "/webhook"
	}
	if c.RecordingSavedPath == "" {
		c.RecordingSavedPath = "/webhook/call-recording-saved"
	}
	if c.TwilioStatusPath == "" {
		c.TwilioStatusPath = "/twilio/status"
	}
	if c.TwilioRecordingPath == "" {
		c.TwilioRecordingPath = "/twilio/recording"
	}
	if c.MonitorPath == "" {
		c.MonitorPath = "/monitor"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// Server holds the router and the event consumer.
type Server struct {
	router  *chi.Mux
	cfg     Config
	handler EventHandler
	monitor http.Handler
	active  func() int
	logger  *slog.Logger
	started time.Time

	attempts AttemptStore
}

// NewServer builds the HTTP handler with all routes mounted. monitor and
// active may be nil.
func NewServer(cfg Config, handler EventHandler, monitor http.Handler, active func() int, logger *slog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg.withDefaults(),
		handler: handler,
		monitor: monitor,
		active:  active,
		logger:  logging.NewComponentLogger(logger, "webhook"),
		started: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Post(s.cfg.WebhookPath, s.handleCallEvent)
	r.Post(s.cfg.RecordingSavedPath, s.handleRecordingSaved)

	r.Group(func(r chi.Router) {
		if s.cfg.AuthToken != "" {
			r.Use(s.requireTwilioSignature)
		}
		r.Post(s.cfg.TwilioStatusPath, s.handleTwilioStatus)
		r.Post(s.cfg.TwilioRecordingPath, s.handleTwilioRecording)
	})

	if s.monitor != nil {
		r.Get(s.cfg.MonitorPath, s.monitor.ServeHTTP)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http_request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":   "ok",
		"uptime_s": int(time.Since(s.started).Seconds()),
	}
	if s.active != nil {
		body["active_sessions"] = s.active()
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}
