package hrest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"remit-service/internal/middleware"
	"remit-service/internal/otp"
	"remit-service/internal/pkg/fees"
	"remit-service/internal/usecase"
	"remit-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type TransferRestHandler struct {
	transferUC *usecase.TransferUsecase
	otpSvc     *otp.Service
	logger     *zap.Logger
}

func NewTransferRestHandler(transferUC *usecase.TransferUsecase, otpSvc *otp.Service, logger *zap.Logger) *TransferRestHandler {
	return &TransferRestHandler{
		transferUC: transferUC,
		otpSvc:     otpSvc,
		logger:     logger,
	}
}

type AttemptJSON struct {
	RecipientID    string `json:"recipient_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	TargetCurrency string `json:"target_currency,omitempty"`
}

func (h *TransferRestHandler) Attempt(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var in AttemptJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_amount", "amount must be a decimal string")
		return
	}
	if in.Currency == "" {
		response.Error(w, http.StatusBadRequest, "invalid_request", "currency is required")
		return
	}

	role := fees.RoleUser
	if claimedRole, ok := middleware.GetRole(r.Context()); ok {
		switch claimedRole {
		case "agent":
			role = fees.RoleAgent
		case "distributor":
			role = fees.RoleDistributor
		}
	}

	attempt, err := h.transferUC.Attempt(r.Context(), usecase.AttemptRequest{
		SenderID:       userID,
		RecipientID:    in.RecipientID,
		Amount:         amount,
		Currency:       in.Currency,
		TargetCurrency: in.TargetCurrency,
		SenderRole:     role,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusCreated, attempt)
}

type ConfirmJSON struct {
	AttemptID string `json:"attempt_id"`
	OTPCode   string `json:"otp_code,omitempty"`
}

func (h *TransferRestHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var in ConfirmJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if in.AttemptID == "" {
		response.Error(w, http.StatusBadRequest, "invalid_request", "attempt_id is required")
		return
	}

	transfer, err := h.transferUC.Confirm(r.Context(), in.AttemptID, in.OTPCode)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, transfer)
}

type IssueOTPJSON struct {
	AttemptID string `json:"attempt_id"`
}

func (h *TransferRestHandler) IssueOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	var in IssueOTPJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.AttemptID == "" {
		response.Error(w, http.StatusBadRequest, "invalid_request", "attempt_id is required")
		return
	}

	challenge, err := h.otpSvc.Issue(r.Context(), userID, in.AttemptID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// The code travels out of band; the caller only learns the envelope.
	response.JSON(w, http.StatusCreated, map[string]interface{}{
		"challenge_id": challenge.ID,
		"attempt_id":   challenge.AttemptID,
		"expires_at":   challenge.ExpiresAt,
	})
}

// callerScope resolves the ownership scope for transfer reads and reversals:
// ordinary users act on their own transfers, ops tokens are unscoped.
func callerScope(r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		return "", false
	}
	if role, ok := middleware.GetRole(r.Context()); ok && role == "admin" {
		return "", true
	}
	return userID, true
}

func (h *TransferRestHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerScope(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	transfer, err := h.transferUC.GetTransfer(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, transfer)
}

func (h *TransferRestHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	transfers, err := h.transferUC.ListTransfers(r.Context(), userID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, transfers)
}

func (h *TransferRestHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerScope(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized", "missing user identity")
		return
	}

	reversal, err := h.transferUC.Reverse(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, reversal)
}
