package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ex-snipe/modules/snipe"
	"ex-snipe/pkg/otogi"
)

const readHeaderTimeout = 5 * time.Second

// SnipeStatus exposes live snipe settings and state sizes.
type SnipeStatus interface {
	Settings() snipe.Settings
	Stats() snipe.Stats
}

// SinkLister lists the configured outbound sinks.
type SinkLister interface {
	Sinks() []otogi.EventSink
}

// SubscriptionLister reports event bus queue statistics.
type SubscriptionLister interface {
	Subscriptions() []otogi.SubscriptionStats
}

// Option mutates server configuration.
type Option func(*Server)

// WithLogger injects the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithGatherer serves metrics from gatherer on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(server *Server) {
		server.gatherer = gatherer
	}
}

// WithSnipe serves snipe settings on /settings.
func WithSnipe(status SnipeStatus) Option {
	return func(server *Server) {
		server.snipe = status
	}
}

// WithSinks serves the sink list on /drivers.
func WithSinks(sinks SinkLister) Option {
	return func(server *Server) {
		server.sinks = sinks
	}
}

// WithSubscriptions serves bus queue statistics on /subscriptions.
func WithSubscriptions(subscriptions SubscriptionLister) Option {
	return func(server *Server) {
		server.subscriptions = subscriptions
	}
}

// Server is the operator HTTP endpoint for health, metrics and live state.
type Server struct {
	address       string
	logger        *slog.Logger
	gatherer      prometheus.Gatherer
	snipe         SnipeStatus
	sinks         SinkLister
	subscriptions SubscriptionLister

	mu       sync.Mutex
	http     *http.Server
	listener net.Listener
	done     chan error
}

// New creates a server for address. Call Start to listen.
func New(address string, options ...Option) *Server {
	server := &Server{
		address: address,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(server)
	}

	return server
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.handleHealth)
	router.Get("/settings", s.handleSettings)
	router.Get("/drivers", s.handleDrivers)
	router.Get("/subscriptions", s.handleSubscriptions)
	if s.gatherer != nil {
		router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.http != nil {
		return fmt.Errorf("admin start: already started")
	}

	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.address, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	done := make(chan error, 1)
	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	s.http = server
	s.listener = listener
	s.done = done
	s.logger.InfoContext(ctx, "admin server started", "address", listener.Addr().String())

	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.http
	done := s.done
	s.http = nil
	s.listener = nil
	s.done = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("admin serve: %w", err)
	}
	s.logger.InfoContext(ctx, "admin server stopped")

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type settingsResponse struct {
	Settings map[string]string `json:"settings"`
	Stats    snipe.Stats       `json:"stats"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	if s.snipe == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "snipe module not configured"})
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Settings: s.snipe.Settings().View(),
		Stats:    s.snipe.Stats(),
	})
}

type sinkResponse struct {
	Platform otogi.Platform `json:"platform"`
	ID       string         `json:"id"`
}

func (s *Server) handleDrivers(w http.ResponseWriter, _ *http.Request) {
	sinks := make([]sinkResponse, 0)
	if s.sinks != nil {
		for _, sink := range s.sinks.Sinks() {
			sinks = append(sinks, sinkResponse{Platform: sink.Platform, ID: sink.ID})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"sinks": sinks})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, _ *http.Request) {
	subscriptions := []otogi.SubscriptionStats{}
	if s.subscriptions != nil {
		subscriptions = append(subscriptions, s.subscriptions.Subscriptions()...)
	}

	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subscriptions})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
