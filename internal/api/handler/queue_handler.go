package handler

import (
	"net/http"

	"go.uber.org/zap"

	apimw "github.com/notifyhub/formsync/internal/api/middleware"
	"github.com/notifyhub/formsync/internal/service"
)

// QueueHandler exposes the administrative queue operations.
type QueueHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Stats handles GET /api/v1/queue/stats
//
// @Summary  Per-status item counts
// @Tags     queue
// @Produce  json
// @Success  200  {object}  domain.QueueStats
// @Router   /api/v1/queue/stats [get]
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetQueueStats(r.Context())
	if err != nil {
		apimw.LoggerFrom(r.Context(), h.logger).Error("queue stats failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Drain handles POST /api/v1/queue/drain. It blocks until the pass is done.
func (h *QueueHandler) Drain(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.ForceDrain(r.Context())
	if err != nil {
		apimw.LoggerFrom(r.Context(), h.logger).Error("forced drain failed", zap.Error(err))
		mapError(w, err)
		return
	}
	apimw.LoggerFrom(r.Context(), h.logger).Info("forced drain finished",
		zap.Int("selected", report.Selected), zap.Int("destinations", len(report.Batches)))
	respondJSON(w, http.StatusOK, report)
}
