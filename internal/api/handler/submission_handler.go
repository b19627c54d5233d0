package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/formsync/internal/api/middleware"
	"github.com/notifyhub/formsync/internal/domain"
	"github.com/notifyhub/formsync/internal/service"
)

// SubmissionHandler accepts form submissions and serves item lookups.
type SubmissionHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewSubmissionHandler(svc *service.QueueService, logger *zap.Logger) *SubmissionHandler {
	return &SubmissionHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/submissions
//
// @Summary     Enqueue a form submission
// @Tags        submissions
// @Accept      json
// @Produce     json
// @Param       body  body      domain.EnqueueRequest  true  "Submission"
// @Success     201   {object}  domain.QueueItem
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/submissions [post]
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	item, err := h.svc.Enqueue(r.Context(), req)
	if err != nil {
		apimw.LoggerFrom(r.Context(), h.logger).Warn("enqueue failed",
			zap.String("form_id", req.FormID), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetByID handles GET /api/v1/submissions/{id}
func (h *SubmissionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	item, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
