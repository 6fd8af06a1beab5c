package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"remit-service/internal/domain"
	"remit-service/internal/pkg/fees"
	"remit-service/internal/pkg/id"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeAttempts struct {
	items     map[string]*domain.TransferAttempt
	abandoned []string
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{items: map[string]*domain.TransferAttempt{}}
}

func (f *fakeAttempts) Create(_ context.Context, a *domain.TransferAttempt) error {
	f.items[a.ID] = a
	return nil
}

func (f *fakeAttempts) GetByID(_ context.Context, id string) (*domain.TransferAttempt, error) {
	a, ok := f.items[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return a, nil
}

func (f *fakeAttempts) Abandon(_ context.Context, id string) error {
	f.abandoned = append(f.abandoned, id)
	if a, ok := f.items[id]; ok {
		a.ExpiresAt = time.Time{}
	}
	return nil
}

func (f *fakeAttempts) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeLedger struct {
	attempts  *fakeAttempts
	balances  map[string]decimal.Decimal
	transfers map[string]*domain.Transfer
	byAttempt map[string]*domain.Transfer
	consumed  []string // challenge ids consumed at commit
}

func newFakeLedger(attempts *fakeAttempts) *fakeLedger {
	return &fakeLedger{
		attempts:  attempts,
		balances:  map[string]decimal.Decimal{},
		transfers: map[string]*domain.Transfer{},
		byAttempt: map[string]*domain.Transfer{},
	}
}

func walletKey(userID, currency string) string { return userID + ":" + currency }

func (f *fakeLedger) setBalance(userID, currency string, amount decimal.Decimal) {
	f.balances[walletKey(userID, currency)] = amount
}

func (f *fakeLedger) GetWallet(_ context.Context, userID, currency string) (*domain.Wallet, error) {
	return &domain.Wallet{
		UserID:    userID,
		Currency:  currency,
		Available: f.balances[walletKey(userID, currency)],
	}, nil
}

func (f *fakeLedger) AvailableBalance(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	return f.balances[walletKey(userID, currency)], nil
}

func (f *fakeLedger) Credit(_ context.Context, userID, currency string, amount decimal.Decimal) error {
	key := walletKey(userID, currency)
	f.balances[key] = f.balances[key].Add(amount)
	return nil
}

func (f *fakeLedger) CommitTransfer(_ context.Context, t *domain.Transfer, challengeID *string) (*domain.Transfer, bool, error) {
	if existing, ok := f.byAttempt[t.AttemptID]; ok {
		return existing, true, nil
	}

	totalDebit := t.Amount.Add(t.Fees.Total())
	senderKey := walletKey(t.SenderID, t.Currency)
	if f.balances[senderKey].LessThan(totalDebit) {
		return nil, false, xerrors.ErrInsufficientFunds
	}
	f.balances[senderKey] = f.balances[senderKey].Sub(totalDebit)

	recipientKey := walletKey(t.RecipientID, t.RecipientCurrency)
	f.balances[recipientKey] = f.balances[recipientKey].Add(t.RecipientAmount)

	if a, ok := f.attempts.items[t.AttemptID]; ok {
		a.Consumed = true
	}
	if challengeID != nil {
		f.consumed = append(f.consumed, *challengeID)
	}

	f.transfers[t.ID] = t
	f.byAttempt[t.AttemptID] = t
	return t, false, nil
}

func (f *fakeLedger) CommitReversal(_ context.Context, originalID, reversalID string, now time.Time) (*domain.Transfer, error) {
	orig, ok := f.transfers[originalID]
	if !ok {
		return nil, xerrors.ErrTransferNotFound
	}
	if orig.Status != domain.TransferCompleted {
		return nil, xerrors.ErrTransferReversed
	}

	f.balances[walletKey(orig.RecipientID, orig.RecipientCurrency)] =
		f.balances[walletKey(orig.RecipientID, orig.RecipientCurrency)].Sub(orig.RecipientAmount)
	f.balances[walletKey(orig.SenderID, orig.Currency)] =
		f.balances[walletKey(orig.SenderID, orig.Currency)].Add(orig.Amount)

	orig.Status = domain.TransferReversed
	reversal := &domain.Transfer{
		ID:          reversalID,
		AttemptID:   "REV-" + originalID,
		SenderID:    orig.RecipientID,
		RecipientID: orig.SenderID,
		Amount:      orig.RecipientAmount,
		Currency:    orig.RecipientCurrency,
		Status:      domain.TransferCompleted,
		ReversalOf:  &originalID,
		CreatedAt:   now,
	}
	f.transfers[reversalID] = reversal
	return reversal, nil
}

func (f *fakeLedger) GetTransferByID(_ context.Context, id string) (*domain.Transfer, error) {
	t, ok := f.transfers[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeLedger) GetTransferByAttemptID(_ context.Context, attemptID string) (*domain.Transfer, error) {
	t, ok := f.byAttempt[attemptID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeLedger) ListTransfersByUser(_ context.Context, userID string, _ int) ([]*domain.Transfer, error) {
	var out []*domain.Transfer
	for _, t := range f.transfers {
		if t.SenderID == userID || t.RecipientID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeRelations struct {
	history *domain.PairHistory
	tier    string
}

func (f *fakeRelations) PairHistory(_ context.Context, _, _ string) (*domain.PairHistory, error) {
	return f.history, nil
}

func (f *fakeRelations) PlanTier(_ context.Context, _ string) (string, error) {
	return f.tier, nil
}

type stubTrust struct {
	assessment *domain.TrustAssessment
}

func (s *stubTrust) Assess(_ *domain.PairHistory) *domain.TrustAssessment {
	return s.assessment
}

type fakeRateLocker struct {
	lock *domain.RateLock
	err  error
}

func (f *fakeRateLocker) Lock(_ context.Context, _, _ string) (*domain.RateLock, error) {
	return f.lock, f.err
}

type fakeValidator struct {
	code        string
	challengeID string
	err         error
}

func (f *fakeValidator) ValidateForAttempt(_ context.Context, _, code string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if code != f.code {
		return "", xerrors.ErrOTPInvalid
	}
	return f.challengeID, nil
}

type fakeNotifier struct {
	completed int
	reversed  int
}

func (f *fakeNotifier) TransferCompleted(_ context.Context, _ *domain.Transfer) { f.completed++ }
func (f *fakeNotifier) TransferReversed(_ context.Context, _ *domain.Transfer)  { f.reversed++ }

// ---- harness ----

type transferFixture struct {
	uc       *TransferUsecase
	attempts *fakeAttempts
	ledger   *fakeLedger
	trust    *stubTrust
	fx       *fakeRateLocker
	otp      *fakeValidator
	notifier *fakeNotifier
	base     time.Time
}

func newTransferFixture(t *testing.T) *transferFixture {
	t.Helper()

	attempts := newFakeAttempts()
	ledger := newFakeLedger(attempts)
	trust := &stubTrust{assessment: &domain.TrustAssessment{Score: 90, Level: domain.TrustTrusted}}
	fx := &fakeRateLocker{}
	otp := &fakeValidator{code: "123456", challengeID: "CHL-1"}
	notifier := &fakeNotifier{}

	uc := NewTransferUsecase(
		ledger, attempts, &fakeRelations{history: &domain.PairHistory{}, tier: "free"},
		trust, fx, otp, fees.DefaultSchedule(), notifier,
		id.NewGenerator(), zap.NewNop(),
		TransferPolicy{
			AttemptTTL:         2 * time.Minute,
			OTPAmountThreshold: decimal.NewFromInt(500),
			RiskBlockThreshold: decimal.NewFromInt(10000),
		},
	)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	uc.SetClock(func() time.Time { return base })

	return &transferFixture{
		uc: uc, attempts: attempts, ledger: ledger,
		trust: trust, fx: fx, otp: otp, notifier: notifier, base: base,
	}
}

func (fx *transferFixture) advance(d time.Duration) {
	at := fx.base.Add(d)
	fx.uc.SetClock(func() time.Time { return at })
}

// ---- tests ----

func TestAttemptValidation(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	t.Run("non positive amount", func(t *testing.T) {
		_, err := fx.uc.Attempt(ctx, AttemptRequest{
			SenderID: "U1", RecipientID: "U2",
			Amount: decimal.Zero, Currency: "USD",
		})
		if !errors.Is(err, xerrors.ErrInvalidAmount) {
			t.Fatalf("err = %v, want ErrInvalidAmount", err)
		}
	})

	t.Run("same wallet", func(t *testing.T) {
		_, err := fx.uc.Attempt(ctx, AttemptRequest{
			SenderID: "U1", RecipientID: "U1",
			Amount: decimal.NewFromInt(10), Currency: "USD",
		})
		if !errors.Is(err, xerrors.ErrSameWalletTransfer) {
			t.Fatalf("err = %v, want ErrSameWalletTransfer", err)
		}
	})

	t.Run("insufficient funds pre-check", func(t *testing.T) {
		fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(5))
		_, err := fx.uc.Attempt(ctx, AttemptRequest{
			SenderID: "U1", RecipientID: "U2",
			Amount: decimal.NewFromInt(100), Currency: "USD",
		})
		if !errors.Is(err, xerrors.ErrInsufficientFunds) {
			t.Fatalf("err = %v, want ErrInsufficientFunds", err)
		}
	})
}

func TestTrustedSameCurrencyTransfer(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "HTG", decimal.NewFromInt(500))

	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "HTG",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if attempt.OTPRequired {
		t.Fatal("trusted recipient below threshold should not require otp")
	}
	if attempt.RateLock != nil {
		t.Fatal("same-currency attempt should not carry a rate lock")
	}

	transfer, err := fx.uc.Confirm(ctx, attempt.ID, "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	wantDebit := attempt.TotalDebit
	senderBalance := fx.ledger.balances["U1:HTG"]
	if !senderBalance.Equal(decimal.NewFromInt(500).Sub(wantDebit)) {
		t.Errorf("sender balance = %s, want %s", senderBalance, decimal.NewFromInt(500).Sub(wantDebit))
	}
	recipientBalance := fx.ledger.balances["U2:HTG"]
	if !recipientBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("recipient balance = %s, want 100", recipientBalance)
	}
	if transfer.Status != domain.TransferCompleted {
		t.Errorf("status = %s, want completed", transfer.Status)
	}
	if fx.notifier.completed != 1 {
		t.Errorf("completed notifications = %d, want 1", fx.notifier.completed)
	}
}

func TestOTPRequiredFlow(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.trust.assessment = &domain.TrustAssessment{Score: 10, Level: domain.TrustNew}
	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(2000))

	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(600), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if !attempt.OTPRequired {
		t.Fatal("new recipient above threshold must require otp")
	}

	t.Run("confirm without code", func(t *testing.T) {
		_, err := fx.uc.Confirm(ctx, attempt.ID, "")
		if !errors.Is(err, xerrors.ErrOTPRequired) {
			t.Fatalf("err = %v, want ErrOTPRequired", err)
		}
	})

	t.Run("confirm with wrong code", func(t *testing.T) {
		_, err := fx.uc.Confirm(ctx, attempt.ID, "000000")
		if !errors.Is(err, xerrors.ErrOTPInvalid) {
			t.Fatalf("err = %v, want ErrOTPInvalid", err)
		}
	})

	t.Run("confirm with correct code", func(t *testing.T) {
		transfer, err := fx.uc.Confirm(ctx, attempt.ID, "123456")
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if transfer.Status != domain.TransferCompleted {
			t.Errorf("status = %s, want completed", transfer.Status)
		}
		if len(fx.ledger.consumed) != 1 || fx.ledger.consumed[0] != "CHL-1" {
			t.Errorf("consumed challenges = %v, want [CHL-1]", fx.ledger.consumed)
		}
	})
}

func TestOTPExhaustionAbandonsAttempt(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.trust.assessment = &domain.TrustAssessment{Score: 10, Level: domain.TrustNew}
	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(2000))

	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(600), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}

	fx.otp.err = xerrors.ErrOTPExhausted
	_, err = fx.uc.Confirm(ctx, attempt.ID, "999999")
	if !errors.Is(err, xerrors.ErrOTPExhausted) {
		t.Fatalf("err = %v, want ErrOTPExhausted", err)
	}
	if len(fx.attempts.abandoned) != 1 || fx.attempts.abandoned[0] != attempt.ID {
		t.Errorf("abandoned = %v, want [%s]", fx.attempts.abandoned, attempt.ID)
	}
}

func TestRiskBlockedAttempt(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.trust.assessment = &domain.TrustAssessment{Score: 0, Level: domain.TrustNew}
	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(50000))

	_, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(20000), Currency: "USD",
	})
	if !errors.Is(err, xerrors.ErrRiskBlocked) {
		t.Fatalf("err = %v, want ErrRiskBlocked", err)
	}
}

func TestCrossCurrencyRateLock(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))
	fx.fx.lock = &domain.RateLock{
		ID:            "FXL-1",
		BaseCurrency:  "USD",
		QuoteCurrency: "HTG",
		MidRate:       decimal.RequireFromString("132.5"),
		SellRate:      decimal.RequireFromString("132.003125"),
		BuyRate:       decimal.RequireFromString("132.996875"),
		LockedAt:      fx.base,
		ExpiresAt:     fx.base.Add(45 * time.Second),
	}

	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "USD", TargetCurrency: "HTG",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if attempt.RateLock == nil {
		t.Fatal("cross-currency attempt must carry a rate lock")
	}
	if got, want := attempt.RecipientAmount.String(), "13200.31"; got != want {
		t.Errorf("recipient amount = %s, want %s", got, want)
	}

	t.Run("expired lock rejected at confirm", func(t *testing.T) {
		fx.advance(46 * time.Second)
		_, err := fx.uc.Confirm(ctx, attempt.ID, "")
		if !errors.Is(err, xerrors.ErrRateLockExpired) {
			t.Fatalf("err = %v, want ErrRateLockExpired", err)
		}
	})

	t.Run("valid lock applies the sell rate", func(t *testing.T) {
		fx.advance(30 * time.Second)
		transfer, err := fx.uc.Confirm(ctx, attempt.ID, "")
		if err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if transfer.FxRate == nil || !transfer.FxRate.Equal(fx.fx.lock.SellRate) {
			t.Errorf("fx rate = %v, want %s", transfer.FxRate, fx.fx.lock.SellRate)
		}
	})
}

func TestConfirmIdempotent(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))

	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}

	first, err := fx.uc.Confirm(ctx, attempt.ID, "")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	balanceAfterFirst := fx.ledger.balances["U1:USD"]

	second, err := fx.uc.Confirm(ctx, attempt.ID, "")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second confirm returned %s, want original %s", second.ID, first.ID)
	}
	if !fx.ledger.balances["U1:USD"].Equal(balanceAfterFirst) {
		t.Errorf("second confirm changed the balance: %s -> %s",
			balanceAfterFirst, fx.ledger.balances["U1:USD"])
	}
	if fx.notifier.completed != 1 {
		t.Errorf("completed notifications = %d, want 1", fx.notifier.completed)
	}
}

func TestConfirmExpiredAttempt(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))
	attempt, err := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}

	fx.advance(3 * time.Minute)
	_, err = fx.uc.Confirm(ctx, attempt.ID, "")
	if !errors.Is(err, xerrors.ErrAttemptNotFoundOrExpired) {
		t.Fatalf("err = %v, want ErrAttemptNotFoundOrExpired", err)
	}

	_, err = fx.uc.Confirm(ctx, "ATT-MISSING", "")
	if !errors.Is(err, xerrors.ErrAttemptNotFoundOrExpired) {
		t.Fatalf("unknown attempt err = %v, want ErrAttemptNotFoundOrExpired", err)
	}
}

func TestReverseTransfer(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))
	attempt, _ := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	transfer, err := fx.uc.Confirm(ctx, attempt.ID, "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	t.Run("only the sender may reverse", func(t *testing.T) {
		for _, caller := range []string{"U9", "U2"} {
			_, err := fx.uc.Reverse(ctx, transfer.ID, caller)
			if !errors.Is(err, xerrors.ErrTransferNotFound) {
				t.Fatalf("caller %s err = %v, want ErrTransferNotFound", caller, err)
			}
		}
		if got := fx.ledger.balances["U2:USD"]; !got.Equal(decimal.NewFromInt(100)) {
			t.Errorf("recipient balance = %s, want untouched 100", got)
		}
		if fx.notifier.reversed != 0 {
			t.Errorf("reversed notifications = %d, want 0", fx.notifier.reversed)
		}
	})

	reversal, err := fx.uc.Reverse(ctx, transfer.ID, "U1")
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if reversal.ReversalOf == nil || *reversal.ReversalOf != transfer.ID {
		t.Errorf("reversal_of = %v, want %s", reversal.ReversalOf, transfer.ID)
	}
	if !fx.ledger.balances["U2:USD"].IsZero() {
		t.Errorf("recipient balance = %s, want 0 after reversal", fx.ledger.balances["U2:USD"])
	}
	if fx.notifier.reversed != 1 {
		t.Errorf("reversed notifications = %d, want 1", fx.notifier.reversed)
	}

	_, err = fx.uc.Reverse(ctx, transfer.ID, "U1")
	if !errors.Is(err, xerrors.ErrTransferReversed) {
		t.Fatalf("second reverse err = %v, want ErrTransferReversed", err)
	}
}

func TestGetTransferScoping(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))
	attempt, _ := fx.uc.Attempt(ctx, AttemptRequest{
		SenderID: "U1", RecipientID: "U2",
		Amount: decimal.NewFromInt(100), Currency: "USD",
	})
	transfer, err := fx.uc.Confirm(ctx, attempt.ID, "")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	for _, caller := range []string{"U1", "U2", ""} {
		got, err := fx.uc.GetTransfer(ctx, transfer.ID, caller)
		if err != nil {
			t.Fatalf("caller %q: %v", caller, err)
		}
		if got.ID != transfer.ID {
			t.Errorf("caller %q got transfer %s, want %s", caller, got.ID, transfer.ID)
		}
	}

	// A stranger cannot tell a foreign transfer from a missing one.
	_, err = fx.uc.GetTransfer(ctx, transfer.ID, "U9")
	if !errors.Is(err, xerrors.ErrTransferNotFound) {
		t.Fatalf("foreign caller err = %v, want ErrTransferNotFound", err)
	}
	_, err = fx.uc.GetTransfer(ctx, "TRF-MISSING", "U9")
	if !errors.Is(err, xerrors.ErrTransferNotFound) {
		t.Fatalf("missing transfer err = %v, want ErrTransferNotFound", err)
	}
}

func TestScheduledTransferFailsClosed(t *testing.T) {
	fx := newTransferFixture(t)
	ctx := context.Background()

	fx.ledger.setBalance("U1", "USD", decimal.NewFromInt(500))

	t.Run("otp requirement becomes risk block", func(t *testing.T) {
		fx.trust.assessment = &domain.TrustAssessment{Score: 10, Level: domain.TrustNew}
		_, err := fx.uc.ScheduledTransfer(ctx, "U1", "U2", decimal.NewFromInt(100))
		if !errors.Is(err, xerrors.ErrRiskBlocked) {
			t.Fatalf("err = %v, want ErrRiskBlocked", err)
		}
		if len(fx.attempts.abandoned) != 1 {
			t.Errorf("abandoned attempts = %d, want 1", len(fx.attempts.abandoned))
		}
	})

	t.Run("trusted schedule runs straight through", func(t *testing.T) {
		fx.trust.assessment = &domain.TrustAssessment{Score: 90, Level: domain.TrustTrusted}
		transfer, err := fx.uc.ScheduledTransfer(ctx, "U1", "U2", decimal.NewFromInt(100))
		if err != nil {
			t.Fatalf("scheduled transfer: %v", err)
		}
		if transfer.Status != domain.TransferCompleted {
			t.Errorf("status = %s, want completed", transfer.Status)
		}
	})
}
