package server

import (
	"PerpLiquidator/internal/core"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/query"
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// OpsRouter serves health, readiness, metrics and a few debug reads.
// It runs on its own port so probes never queue behind the gateway.
func OpsRouter(engine Engine, health *observability.HealthChecker, gatherer prometheus.Gatherer, now func() time.Time) http.Handler {
	if now == nil {
		now = core.MonotonicClock()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets/{marketId}/capacity", func(w http.ResponseWriter, req *http.Request) {
			marketID := chi.URLParam(req, "marketId")
			c, err := engine.GetRemainingLiquidatableSizeCapacity(marketID, now().UnixMicro())
			if err != nil {
				writeError(w, toStatus(err))
				return
			}
			writeJSON(w, http.StatusOK, query.NewCapacityView(marketID, c))
		})

		r.Get("/flags", func(w http.ResponseWriter, req *http.Request) {
			limit := query.DefaultPageSize
			if v := req.URL.Query().Get("limit"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			flags := engine.ListFlaggedPositions(req.URL.Query().Get("market"), limit)
			views := make([]query.FlagView, 0, len(flags))
			for _, f := range flags {
				views = append(views, query.NewFlagView(f))
			}
			writeJSON(w, http.StatusOK, views)
		})
	})

	return r
}

// ServeOps runs the ops router on addr until ctx is cancelled
func ServeOps(ctx context.Context, addr string, handler http.Handler) error {
	logger := observability.NewLogger("ops")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("ops server shutdown")
		}
	}()

	logRoutes(logger, handler)
	logger.Info().Str("addr", addr).Msg("ops server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func logRoutes(logger zerolog.Logger, handler http.Handler) {
	routes, ok := handler.(chi.Routes)
	if !ok {
		return
	}
	chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		logger.Debug().Str("method", method).Str("route", route).Msg("ops route")
		return nil
	})
}
