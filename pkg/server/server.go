// Package server receives GitLab merge request webhooks and comments with
// suggested reviewers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codeGROOVE-dev/mention-bot/pkg/gitlab"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 5 * time.Second
)

const banner = "mention-bot is running.\nPOST GitLab merge request webhooks to /, health at /healthz.\n"

// Config configures the HTTP server.
type Config struct {
	Addr          string
	WebhookSecret string // compared with X-Gitlab-Token when set
}

// Server serves the webhook, banner and health endpoints.
type Server struct {
	baseCtx context.Context //nolint:containedctx // runs must outlive the webhook request
	server  *http.Server
	router  *chi.Mux
	bot     *Bot   // handles GitLab webhooks
	bots    []*Bot // waited for on Shutdown, bot included
	metrics *Metrics
	checks  map[string]func() any
	secret  string
	mu      sync.RWMutex
}

// New builds the server. ctx bounds every run started by a webhook. A nil bot
// serves health only and answers webhooks with 503.
func New(ctx context.Context, cfg Config, bot *Bot, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	mux := chi.NewMux()
	s := &Server{
		baseCtx: ctx,
		router:  mux,
		bot:     bot,
		metrics: metrics,
		checks:  make(map[string]func() any),
		secret:  cfg.WebhookSecret,
	}
	if bot != nil {
		s.bots = append(s.bots, bot)
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	s.setupRoutes()
	return s
}

// AddHealthCheck reports fn's value under name in /healthz.
func (s *Server) AddHealthCheck(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = fn
}

// AddBot makes Shutdown wait for runs submitted to b outside the webhook, such as
// the GitHub event stream.
func (s *Server) AddBot(b *Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots = append(s.bots, b)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/", s.handleBanner)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/", s.handleWebhook)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	slog.Info("Server starting", "component", "server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight runs.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.mu.RLock()
	bots := s.bots
	s.mu.RUnlock()
	for _, b := range bots {
		b.Wait()
	}
	return err
}

func (*Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(banner)); err != nil {
		slog.Warn("Failed to write banner", "component", "server", "error", err)
	}
}

type healthResponse struct {
	Sources map[string]any `json:"sources,omitempty"`
	Stats
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Stats: s.metrics.Stats()}
	s.mu.RLock()
	if len(s.checks) > 0 {
		resp.Sources = make(map[string]any, len(s.checks))
		for name, fn := range s.checks {
			resp.Sources[name] = fn()
		}
	}
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.bot == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "error": "GitLab is not configured"})
		return
	}
	ev, err := gitlab.ParseMergeEvent(r, s.secret)
	switch {
	case errors.Is(err, gitlab.ErrUnauthorized):
		slog.Warn("Rejected webhook", "component", "server", "remote", r.RemoteAddr, "error", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "unauthorized"})
		return
	case errors.Is(err, gitlab.ErrIgnored):
		slog.Debug("Ignored webhook", "component", "server", "reason", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "reason": err.Error()})
		return
	case err != nil:
		slog.Warn("Bad webhook", "component", "server", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": err.Error()})
		return
	}

	req := Request{
		RepositoryURL: ev.RepositoryURL,
		URL:           ev.URL,
		Title:         ev.Title,
		CommitID:      ev.CommitID,
		Author:        ev.Author,
		Number:        ev.IID,
	}
	slog.Info("Merge request opened", "component", "server", "mr", req.URL, "author", req.Author)
	s.bot.Submit(s.baseCtx, req)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"component", "server",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Warn("Failed to write response", "component", "server", "error", err)
	}
}
