package hrest

import (
	"errors"
	"net/http"

	xerrors "remit-service/internal/pkg/xerrors"
	"remit-service/pkg/response"

	"go.uber.org/zap"
)

type errMapping struct {
	status int
	kind   string
}

// Every expected business outcome maps to a stable, enumerable kind the
// caller can switch on. Anything unmapped is an infrastructure error.
var errMappings = []struct {
	err     error
	mapping errMapping
}{
	{xerrors.ErrInvalidAmount, errMapping{http.StatusBadRequest, "invalid_amount"}},
	{xerrors.ErrSameWalletTransfer, errMapping{http.StatusBadRequest, "same_wallet"}},
	{xerrors.ErrInvalidFrequency, errMapping{http.StatusBadRequest, "invalid_frequency"}},
	{xerrors.ErrInvalidRequest, errMapping{http.StatusBadRequest, "invalid_request"}},

	{xerrors.ErrInsufficientFunds, errMapping{http.StatusUnprocessableEntity, "insufficient_funds"}},
	{xerrors.ErrRiskBlocked, errMapping{http.StatusUnprocessableEntity, "risk_blocked"}},
	{xerrors.ErrUnsupportedCurrencyPair, errMapping{http.StatusUnprocessableEntity, "unsupported_currency_pair"}},

	{xerrors.ErrAttemptNotFoundOrExpired, errMapping{http.StatusGone, "attempt_expired"}},
	{xerrors.ErrRateLockExpired, errMapping{http.StatusGone, "rate_lock_expired"}},

	{xerrors.ErrOTPRequired, errMapping{http.StatusForbidden, "otp_required_but_missing"}},
	{xerrors.ErrOTPNotRequired, errMapping{http.StatusConflict, "otp_not_required"}},
	{xerrors.ErrOTPInvalid, errMapping{http.StatusForbidden, "otp_invalid"}},
	{xerrors.ErrOTPExpired, errMapping{http.StatusForbidden, "otp_expired"}},
	{xerrors.ErrOTPExhausted, errMapping{http.StatusForbidden, "otp_exhausted"}},
	{xerrors.ErrOTPConsumed, errMapping{http.StatusForbidden, "otp_consumed"}},
	{xerrors.ErrTooManyOTPRequests, errMapping{http.StatusTooManyRequests, "too_many_otp_requests"}},

	{xerrors.ErrTransferNotFound, errMapping{http.StatusNotFound, "transfer_not_found"}},
	{xerrors.ErrTransferReversed, errMapping{http.StatusConflict, "already_reversed"}},

	{xerrors.ErrScheduleNotFound, errMapping{http.StatusNotFound, "schedule_not_found"}},
	{xerrors.ErrScheduleCanceled, errMapping{http.StatusConflict, "schedule_canceled"}},
	{xerrors.ErrInvalidTransition, errMapping{http.StatusConflict, "invalid_transition"}},
	{xerrors.ErrPlanLimitExceeded, errMapping{http.StatusForbidden, "plan_limit_exceeded"}},

	{xerrors.ErrNotFound, errMapping{http.StatusNotFound, "not_found"}},
	{xerrors.ErrUnauthorized, errMapping{http.StatusUnauthorized, "unauthorized"}},
	{xerrors.ErrForbidden, errMapping{http.StatusForbidden, "forbidden"}},
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, m := range errMappings {
		if errors.Is(err, m.err) {
			response.Error(w, m.mapping.status, m.mapping.kind, m.err.Error())
			return
		}
	}
	logger.Error("unexpected error", zap.Error(err))
	response.Error(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
