package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"deltar/adapters/report"
	"deltar/app"
	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/errors"
)

// defaultMaxBody bounds request bodies; inline tables are the largest payloads
const defaultMaxBody = 8 << 20

// Estimation slots: a single estimate holds one, a batch holds batchCost
const (
	defaultSlots = 8
	batchCost    = 4
)

// Config holds HTTP server settings
type Config struct {
	Port         string
	MaxBodyBytes int64
	// Slots bounds concurrent estimation work; requests beyond it wait for a free slot
	Slots int64
	// ShutdownTimeout bounds graceful shutdown once the serve context ends
	ShutdownTimeout time.Duration
}

// Server exposes the estimator over HTTP
type Server struct {
	router    *chi.Mux
	estimator *app.Estimator
	renderer  *report.Renderer
	validate  *validator.Validate
	metrics   *Metrics
	slots     *semaphore.Weighted
	config    Config
	logger    *internal.Logger
}

// NewServer creates a server with its routes mounted
func NewServer(estimator *app.Estimator, config Config, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	if config.Port == "" {
		config.Port = "8080"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaultMaxBody
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.Slots <= 0 {
		config.Slots = defaultSlots
	}

	s := &Server{
		router:    chi.NewRouter(),
		estimator: estimator,
		renderer:  report.NewRenderer(0, 0),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   NewMetrics(),
		slots:     semaphore.NewWeighted(config.Slots),
		config:    config,
		logger:    logger.WithComponent("API"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(s.metrics.countRequests)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/estimate/shell", s.handleShell)
		r.Post("/estimate/pair", s.handlePair)
		r.Post("/batch", s.handleBatch)
		r.Get("/curves", s.handleCurves)
	})
}

// Handler returns the root handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	var body ShellRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := body.Options.resolve(s.estimator.DefaultOptions())
	if err != nil {
		s.writeError(w, err)
		return
	}

	release, err := s.acquire(r.Context(), 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	start := time.Now()
	est, err := s.estimator.EstimateShell(r.Context(), app.ShellRequest{
		ID:             body.ID,
		CollectionYear: *body.CollectionYear,
		Measured:       body.Measured.measurement(),
		Options:        opts,
	})
	s.metrics.observeEstimation(string(reservoir.MethodShell), start, 1, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !body.IncludeSample {
		est.Sample = nil
	}
	s.writeJSON(w, http.StatusOK, est)
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var body PairRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	opts, err := body.Options.resolve(s.estimator.DefaultOptions())
	if err != nil {
		s.writeError(w, err)
		return
	}

	release, err := s.acquire(r.Context(), 1)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	start := time.Now()
	est, err := s.estimator.EstimatePair(r.Context(), app.PairRequest{
		ID:        body.ID,
		TrueAge:   body.TrueAge.measurement(),
		Measured:  body.Measured.measurement(),
		Mode:      reservoir.CalibrationMode(body.Mode),
		CurveName: body.Curve,
		Options:   opts,
	})
	s.metrics.observeEstimation(string(reservoir.MethodPair), start, 1, err)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !body.IncludeSample {
		est.Sample = nil
	}
	s.writeJSON(w, http.StatusOK, est)
}

// handleBatch runs a named or inline table. ?report=markdown or ?report=html returns the
// rendered report instead of JSON.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("report"))
	if format != "" && format != "markdown" && format != "html" {
		s.writeError(w, reservoir.NewValidationError("report", fmt.Sprintf("unknown format %q", format)))
		return
	}
	opts, err := body.Options.resolve(s.estimator.DefaultOptions())
	if err != nil {
		s.writeError(w, err)
		return
	}

	req := app.BatchRequest{
		Method:    reservoir.Method(body.Method),
		Mode:      reservoir.CalibrationMode(body.Mode),
		CurveName: body.Curve,
		Options:   opts,
	}
	release, err := s.acquire(r.Context(), batchCost)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer release()

	start := time.Now()
	var result *reservoir.BatchResult
	if body.Table != "" {
		result, err = s.estimator.RunNamedBatch(r.Context(), body.Table, req)
	} else {
		result, err = s.estimator.RunBatch(r.Context(), body.Inline.table(), req)
	}
	columns := 0
	if result != nil {
		columns = len(result.Statistics)
	}
	s.metrics.observeEstimation(methodLabel(body.Method), start, columns, err)
	if err != nil {
		s.writeError(w, err)
		return
	}

	switch format {
	case "markdown", "html":
		doc, err := s.renderer.Document(result)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if format == "html" {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write(report.HTML(doc, "Delta R batch "+result.RunID))
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(doc))
		return
	}

	if !body.IncludeDraws {
		result.Draws = nil
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCurves(w http.ResponseWriter, r *http.Request) {
	registry := s.estimator.Registry()
	curves, err := registry.Names(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	tables, err := registry.TableNames(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if curves == nil {
		curves = []string{}
	}
	if tables == nil {
		tables = []string{}
	}
	s.writeJSON(w, http.StatusOK, CurvesResponse{
		Curves:           curves,
		Tables:           tables,
		DefaultReservoir: s.estimator.DefaultOptions().ReservoirCurve,
	})
}

// acquire waits for estimation slots; the returned func gives them back
func (s *Server) acquire(ctx context.Context, cost int64) (func(), error) {
	cost = min(cost, s.config.Slots)
	if err := s.slots.Acquire(ctx, cost); err != nil {
		return nil, errors.New(errors.CodeUnavailable, "request cancelled while waiting for an estimation slot")
	}
	return func() { s.slots.Release(cost) }, nil
}

// decode reads a JSON body and validates its struct tags. Every failure is a validation error.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return reservoir.NewValidationError("body", err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		return reservoir.NewValidationError("body", err.Error())
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	appErr := errors.FromDomain(err)
	status := statusOf(appErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed: %v", err)
	} else {
		s.logger.Debug("request rejected: %v", err)
	}
	s.writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: appErr.Code, Message: appErr.Error()}})
}

// methodLabel keeps the metric label set fixed: anything that does not parse is "invalid"
func methodLabel(raw string) string {
	method, err := reservoir.ParseMethod(raw)
	if err != nil {
		return "invalid"
	}
	return string(method)
}

func statusOf(code string) int {
	switch code {
	case errors.CodeValidationError:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeComputationError:
		return http.StatusUnprocessableEntity
	case errors.CodeCollaboratorError:
		return http.StatusBadGateway
	case errors.CodeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
