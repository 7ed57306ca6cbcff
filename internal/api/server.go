package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/scribe/internal/detect"
	"github.com/MikeSquared-Agency/scribe/internal/ingest"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

// Importer is the part of ingest.Dispatcher the API needs.
type Importer interface {
	Import(ctx context.Context, p ingest.Payload, r io.Reader) (*ingest.Result, error)
	Detect(sample []byte, fileName, contentType string) detect.Result
}

// EventPublisher announces finished imports.
type EventPublisher interface {
	PublishImportCompleted(res *ingest.Result) error
}

// Ledger persists import summaries.
type Ledger interface {
	RecordImport(ctx context.Context, rec store.ImportRecord) error
	RecentImports(ctx context.Context, limit int) ([]store.ImportRecord, error)
}

// Metrics serves /metrics and counts throttled requests.
type Metrics interface {
	Handler() http.Handler
	RateLimited()
}

const defaultMaxUploadBytes = 512 * 1024 * 1024

type Server struct {
	router    *chi.Mux
	port      int
	importer  Importer
	logger    *slog.Logger
	publisher EventPublisher
	ledger    Ledger
	limiter   RateLimiter
	metrics   Metrics
	apiToken  string
	maxUpload int64
	sample    int
}

type Option func(*Server)

func WithPublisher(p EventPublisher) Option { return func(s *Server) { s.publisher = p } }
func WithLedger(l Ledger) Option            { return func(s *Server) { s.ledger = l } }
func WithRateLimiter(l RateLimiter) Option  { return func(s *Server) { s.limiter = l } }
func WithMetrics(m Metrics) Option          { return func(s *Server) { s.metrics = m } }

// WithAPIToken requires "Authorization: Bearer <token>" on /api/v1.
func WithAPIToken(token string) Option { return func(s *Server) { s.apiToken = token } }

// WithMaxUploadBytes caps request bodies on the import route.
func WithMaxUploadBytes(n int64) Option { return func(s *Server) { s.maxUpload = n } }

// WithSampleBytes caps the body read by the detect route.
func WithSampleBytes(n int) Option { return func(s *Server) { s.sample = n } }

func NewServer(port int, importer Importer, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    chi.NewRouter(),
		port:      port,
		importer:  importer,
		logger:    logger,
		maxUpload: defaultMaxUploadBytes,
		sample:    ingest.DefaultSampleBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.health)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(s.apiToken))
		r.Use(s.rateLimit)
		r.Post("/imports", s.createImport)
		r.Post("/detect", s.detect)
		if s.ledger != nil {
			r.Get("/imports", s.listImports)
		}
	})

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
