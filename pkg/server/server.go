// Package server exposes the prediction service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fedora-copr/rpmeta/pkg/auth"
	"github.com/fedora-copr/rpmeta/pkg/dataset"
	"github.com/fedora-copr/rpmeta/pkg/feature"
	"github.com/fedora-copr/rpmeta/pkg/metrics"
	"github.com/fedora-copr/rpmeta/pkg/modelstore"
	"github.com/fedora-copr/rpmeta/pkg/predcache"
	"github.com/fedora-copr/rpmeta/pkg/predictor"
)

// Options configures the HTTP surface.
type Options struct {
	ListenAddr     string
	RequestTimeout time.Duration
	AdminToken     string
}

// Server wires the prediction service, the optional response cache and the
// admin endpoints into a chi router.
type Server struct {
	svc   *predictor.Service
	cache *predcache.Cache
	opts  Options
	log   zerolog.Logger
}

func New(svc *predictor.Service, cache *predcache.Cache, opts Options, log zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{svc: svc, cache: cache, opts: opts, log: log}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(timeoutMiddleware(s.opts.RequestTimeout))

	router.Get("/healthz", healthzHandler)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Post("/predict", s.handlePredict)

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.opts.AdminToken))
		r.Post("/reload", s.handleReload)
	})

	return router
}

// ListenAndServe runs the server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    s.opts.ListenAddr,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	s.log.Info().Str("addr", s.opts.ListenAddr).Msg("prediction API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var rec dataset.BuildRecord
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&rec); err != nil {
		metrics.RecordPredictionError("decode")
		writeDetail(w, http.StatusUnprocessableEntity, "malformed build record: "+err.Error())
		return
	}

	if cached, err := s.cache.Get(r.Context(), rec); err != nil {
		s.log.Warn().Err(err).Msg("prediction cache read failed")
	} else if cached != nil {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	res, err := s.svc.Predict(r.Context(), rec)
	if err != nil {
		s.writePredictError(w, err)
		return
	}

	if err := s.cache.Put(r.Context(), rec, res); err != nil {
		s.log.Warn().Err(err).Msg("prediction cache write failed")
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.svc.Reload()
	metrics.RecordCacheReload()
	if err := s.cache.Flush(r.Context()); err != nil {
		s.log.Warn().Err(err).Msg("prediction cache flush failed")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// writePredictError maps the error taxonomy to distinct status codes:
// rejected record 422, schema mismatch 409, no model 503, storage 500.
func (s *Server) writePredictError(w http.ResponseWriter, err error) {
	var schemaErr *feature.SchemaError
	var mismatchErr *feature.SchemaMismatchError
	switch {
	case errors.As(err, &schemaErr):
		metrics.RecordPredictionError("schema")
		writeDetail(w, http.StatusUnprocessableEntity, schemaErr.Error())
	case errors.As(err, &mismatchErr):
		metrics.RecordPredictionError("schema_mismatch")
		s.log.Error().Err(err).Msg("serving model trained against a different schema")
		writeDetail(w, http.StatusConflict, mismatchErr.Error())
	case errors.Is(err, predictor.ErrNoModelAvailable):
		metrics.RecordPredictionError("no_model")
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, modelstore.ErrStorage):
		metrics.RecordPredictionError("storage")
		s.log.Error().Err(err).Msg("model storage failure")
		writeDetail(w, http.StatusInternalServerError, "model storage failure")
	default:
		metrics.RecordPredictionError("internal")
		s.log.Error().Err(err).Msg("prediction failed")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
