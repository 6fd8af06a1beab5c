package xerrors

import "errors"
import "github.com/jackc/pgx/v5/pgconn"

func ParsePGErrorCode(err error) string {
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
)

// Transfer attempt / confirm
var (
	ErrInvalidAmount            = errors.New("amount must be greater than zero")
	ErrSameWalletTransfer       = errors.New("sender and recipient must differ")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrAttemptNotFoundOrExpired = errors.New("transfer attempt not found or expired")
	ErrAttemptConsumed          = errors.New("transfer attempt already consumed")
	ErrRateLockExpired          = errors.New("rate lock expired")
	ErrRiskBlocked              = errors.New("transfer blocked by risk policy")
	ErrTransferNotFound         = errors.New("transfer not found")
	ErrTransferReversed         = errors.New("transfer already reversed")
)

// OTP challenge
var (
	ErrOTPRequired        = errors.New("otp required but missing")
	ErrOTPNotRequired     = errors.New("otp not required for this attempt")
	ErrOTPInvalid         = errors.New("invalid otp")
	ErrOTPExpired         = errors.New("expired otp")
	ErrOTPExhausted       = errors.New("otp attempts exhausted")
	ErrOTPConsumed        = errors.New("otp already used")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrTooManyOTPRequests = errors.New("too many otp requests")
)

// FX
var (
	ErrUnsupportedCurrencyPair = errors.New("unsupported currency pair")
)

// Recurring schedules
var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrInvalidTransition  = errors.New("invalid schedule state transition")
	ErrScheduleCanceled   = errors.New("schedule is canceled")
	ErrInvalidFrequency   = errors.New("invalid schedule frequency")
	ErrPlanLimitExceeded  = errors.New("active schedule limit reached for plan")
	ErrRunAlreadyInFlight = errors.New("schedule run already in flight")
)
