package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/formsync/internal/api/handler"
	apimw "github.com/notifyhub/formsync/internal/api/middleware"
	"github.com/notifyhub/formsync/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
// healthCheck may be nil.
func NewRouter(
	svc *service.QueueService,
	reg prometheus.Gatherer,
	healthCheck func(ctx context.Context) error,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestSize(1 << 20))
	r.Use(apimw.CorrelationID(logger))
	r.Use(apimw.RequestLogger(logger))

	sh := handler.NewSubmissionHandler(svc, logger)
	qh := handler.NewQueueHandler(svc, logger)
	hh := handler.NewHealthHandler(healthCheck)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/submissions", sh.Create)
		r.Get("/submissions/{id}", sh.GetByID)

		r.Get("/queue/stats", qh.Stats)
		r.Post("/queue/drain", qh.Drain)
	})

	return r
}
