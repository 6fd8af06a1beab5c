package hrest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"remit-service/internal/domain"
	"remit-service/internal/middleware"
	"remit-service/internal/usecase"
	"remit-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ScheduleRestHandler struct {
	scheduleUC *usecase.ScheduleUsecase
	logger     *zap.Logger
}

func NewScheduleRestHandler(scheduleUC *usecase.ScheduleUsecase, logger *zap.Logger) *ScheduleRestHandler {
	return &ScheduleRestHandler{scheduleUC: scheduleUC, logger: logger}
}

type CreateScheduleJSON struct {
	RecipientID string  `json:"recipient_id"`
	AmountUSD   string  `json:"amount_usd"`
	Frequency   string  `json:"frequency"`
	Note        *string `json:"note,omitempty"`
}

func (h *ScheduleRestHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var in CreateScheduleJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(in.AmountUSD)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_amount", "amount_usd must be a decimal string")
		return
	}

	schedule, err := h.scheduleUC.Create(r.Context(), usecase.CreateScheduleRequest{
		OwnerID:     userID,
		RecipientID: in.RecipientID,
		AmountUSD:   amount,
		Frequency:   domain.ScheduleFrequency(in.Frequency),
		Note:        in.Note,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, schedule)
}

func (h *ScheduleRestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	schedules, err := h.scheduleUC.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, schedules)
}

func (h *ScheduleRestHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	schedule, err := h.scheduleUC.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, schedule)
}

func (h *ScheduleRestHandler) Pause(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	schedule, err := h.scheduleUC.Pause(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, schedule)
}

func (h *ScheduleRestHandler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	schedule, err := h.scheduleUC.Resume(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, schedule)
}

func (h *ScheduleRestHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())
	schedule, err := h.scheduleUC.Cancel(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, schedule)
}

func (h *ScheduleRestHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.scheduleUC.ListRuns(r.Context(), chi.URLParam(r, "id"), userID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, runs)
}
