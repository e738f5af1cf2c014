package web

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vbonduro/cubby/internal/cloud"
	"github.com/vbonduro/cubby/internal/domain"
	"github.com/vbonduro/cubby/internal/metrics"
	"github.com/vbonduro/cubby/internal/service"
	"github.com/vbonduro/cubby/internal/syncstate"
)

// Sharing is the part of sharing.Service exposed over HTTP.
type Sharing interface {
	ShareHome(ctx context.Context, home *domain.Home) (*domain.Share, error)
	FetchShare(ctx context.Context, home *domain.Home) (*domain.Share, error)
	IsShared(ctx context.Context, home *domain.Home) bool
	Permission(ctx context.Context, home *domain.Home) domain.SharePermission
	Participants(ctx context.Context, home *domain.Home) ([]domain.Participant, error)
	Invite(ctx context.Context, home *domain.Home, userID string, role domain.ParticipantRole) (*domain.Share, error)
	StopSharing(ctx context.Context, home *domain.Home) error
	AcceptShareInvitation(ctx context.Context, md cloud.ShareMetadata) (*domain.Share, error)
}

type SyncMachine interface {
	State() domain.SyncState
	RefreshNow()
	SetLifecycle(l syncstate.Lifecycle)
}

type Options struct {
	Inventory *service.InventoryService
	Sharing   Sharing
	Sync      SyncMachine
	Hub       *Hub
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Server struct {
	inventory *service.InventoryService
	sharing   Sharing
	sync      SyncMachine
	hub       *Hub
	metrics   *metrics.Metrics
	router    chi.Router
	logger    *slog.Logger
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{
		inventory: opts.Inventory,
		sharing:   opts.Sharing,
		sync:      opts.Sync,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestLogger, securityHeaders)

	r.Route("/homes", func(r chi.Router) {
		r.Get("/", s.handleListHomes)
		r.Post("/", s.handleCreateHome)
		r.Route("/{home_id}", func(r chi.Router) {
			r.Get("/", s.handleGetHome)
			r.Patch("/", s.handleRenameHome)
			r.Delete("/", s.handleDeleteHome)
			r.Get("/locations", s.handleListLocations)
			r.Post("/locations", s.handleCreateLocation)
			r.Get("/items", s.handleListHomeItems)

			r.Post("/share", s.handleShareHome)
			r.Get("/share", s.handleFetchShare)
			r.Delete("/share", s.handleStopSharing)
			r.Get("/participants", s.handleParticipants)
			r.Post("/participants", s.handleInvite)
			r.Get("/permissions", s.handlePermissions)
		})
	})

	r.Route("/locations/{location_id}", func(r chi.Router) {
		r.Get("/", s.handleGetLocation)
		r.Patch("/", s.handleRenameLocation)
		r.Delete("/", s.handleDeleteLocation)
		r.Post("/move", s.handleMoveLocation)
		r.Post("/remember", s.handleRememberLocation)
		r.Get("/items", s.handleListLocationItems)
		r.Post("/items", s.handleCreateItem)
	})
	r.Get("/settings/last-location", s.handleLastUsedLocation)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.handleListItems)
		r.Route("/{item_id}", func(r chi.Router) {
			r.Get("/", s.handleGetItem)
			r.Put("/", s.handleUpdateItem)
			r.Delete("/", s.handleDeleteItem)
			r.Post("/move", s.handleMoveItem)
			r.Put("/photo", s.handlePutPhoto)
			r.Get("/photo", s.handleGetPhoto)
		})
	})

	r.Post("/shares/accept", s.handleAcceptShare)

	r.Get("/sync", s.handleSyncState)
	r.Post("/sync/refresh", s.handleSyncRefresh)
	r.Post("/lifecycle", s.handleLifecycle)

	if s.hub != nil {
		r.Get("/events", s.hub.ServeHTTP)
	}
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// securityHeaders adds defensive HTTP response headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the event hub upgrade connections through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// requestLogger logs and counts requests by route pattern, so ids in the
// path do not explode the metric's cardinality.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		s.metrics.Request(route, r.Method, strconv.Itoa(rec.status))
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
