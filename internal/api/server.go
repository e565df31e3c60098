// Package api exposes the FlowDesk HTTP surface: the encrypted WhatsApp Flow
// endpoint, Flow key management, and the template precheck, payload, send,
// preview and drafting operations.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/flow"
	"github.com/BTreeMap/FlowDesk/internal/genai"
	"github.com/BTreeMap/FlowDesk/internal/messaging"
	"github.com/BTreeMap/FlowDesk/internal/publicurl"
	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/BTreeMap/FlowDesk/internal/whatsapp"
	"golang.org/x/time/rate"
)

// Default configuration constants
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultFlowRPS is the sustained flow endpoint request rate.
	DefaultFlowRPS = 20.0
	// DefaultFlowBurst is the flow endpoint burst size.
	DefaultFlowBurst = 40
	// DefaultFlowTimeout bounds routing of one flow request.
	DefaultFlowTimeout = 8 * time.Second
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// MaxFlowBodyBytes caps the encrypted flow request body.
	MaxFlowBodyBytes = 1 << 20
	// MaxAPIBodyBytes caps template API request bodies.
	MaxAPIBodyBytes = 8 << 20
)

// Drafter produces template drafts.
type Drafter interface {
	DraftTemplates(ctx context.Context, req genai.DraftRequest) (*genai.DraftResult, error)
}

// Deps are the collaborators a Server dispatches to. Settings and Store are
// required; the others are optional and their endpoints answer 503 when unset.
type Deps struct {
	Settings   store.SettingsStore
	Store      store.Store
	Router     *flow.Router
	Dispatcher *messaging.Dispatcher
	Preview    whatsapp.PreviewSender
	Drafter    Drafter
	PublicURL  publicurl.Resolver
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	FlowRPS       float64
	FlowBurst     int
	FlowTimeout   time.Duration
	DefaultRegion string
	AdminToken    string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithFlowRateLimit throttles the flow endpoint. A non-positive rps disables throttling.
func WithFlowRateLimit(rps float64, burst int) Option {
	return func(o *Opts) {
		o.FlowRPS = rps
		o.FlowBurst = burst
	}
}

// WithFlowTimeout bounds how long a flow handler may run.
func WithFlowTimeout(d time.Duration) Option {
	return func(o *Opts) { o.FlowTimeout = d }
}

// WithDefaultRegion sets the phone region used by precheck.
func WithDefaultRegion(region string) Option {
	return func(o *Opts) { o.DefaultRegion = region }
}

// WithAdminToken sets the token required by the management routes.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// Server serves the FlowDesk API.
type Server struct {
	addr        string
	deps        Deps
	limiter     *rate.Limiter
	flowTimeout time.Duration
	region      string
	adminToken  string
	mux         *http.ServeMux
}

// NewServer builds a server from deps and options.
func NewServer(deps Deps, opts ...Option) (*Server, error) {
	cfg := Opts{
		Addr:          DefaultAddr,
		FlowRPS:       DefaultFlowRPS,
		FlowBurst:     DefaultFlowBurst,
		FlowTimeout:   DefaultFlowTimeout,
		DefaultRegion: templates.DefaultRegion,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if deps.Settings == nil || deps.Store == nil {
		return nil, fmt.Errorf("settings and store are required")
	}
	if deps.Router == nil {
		deps.Router = flow.NewRouter()
	}

	limit := rate.Limit(cfg.FlowRPS)
	if cfg.FlowRPS <= 0 {
		limit = rate.Inf
	}
	if cfg.FlowBurst <= 0 {
		cfg.FlowBurst = 1
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}

	s := &Server{
		addr:        cfg.Addr,
		deps:        deps,
		limiter:     rate.NewLimiter(limit, cfg.FlowBurst),
		flowTimeout: cfg.FlowTimeout,
		region:      cfg.DefaultRegion,
		adminToken:  cfg.AdminToken,
		mux:         http.NewServeMux(),
	}
	s.routes()
	slog.Debug("Server.NewServer: configured", "addr", s.addr, "flow_rps", cfg.FlowRPS, "flow_burst", cfg.FlowBurst,
		"dispatcher_set", deps.Dispatcher != nil, "preview_set", deps.Preview != nil, "drafter_set", deps.Drafter != nil, "admin_token_set", cfg.AdminToken != "")
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/flows/endpoint", s.flowEndpointHandler)
	s.mux.HandleFunc("/api/flows/keys", s.requireAdmin(s.flowKeysHandler))
	s.mux.HandleFunc("/api/flows/submissions", s.requireAdmin(s.flowSubmissionsHandler))
	s.mux.HandleFunc("/api/templates/precheck", s.requireAdmin(s.precheckHandler))
	s.mux.HandleFunc("/api/templates/payload", s.requireAdmin(s.payloadHandler))
	s.mux.HandleFunc("/api/templates/send", s.requireAdmin(s.sendHandler))
	s.mux.HandleFunc("/api/templates/sends", s.requireAdmin(s.sendsHandler))
	s.mux.HandleFunc("/api/templates/preview", s.requireAdmin(s.previewHandler))
	s.mux.HandleFunc("/api/templates/drafts", s.requireAdmin(s.draftsHandler))
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api server shutdown failed: %w", err)
		}
		return nil
	}
}
