package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ---- fakes ----

type fakeStore struct {
	mu        sync.Mutex
	due       []*domain.RecurringSchedule
	claimable map[string]bool
	claims    []string
	releases  []string
	runCounts map[string]int
}

func newFakeStore(due ...*domain.RecurringSchedule) *fakeStore {
	return &fakeStore{
		due:       due,
		claimable: map[string]bool{},
		runCounts: map[string]int{},
	}
}

func (f *fakeStore) DueSchedules(_ context.Context, _ time.Time, _ int) ([]*domain.RecurringSchedule, error) {
	return f.due, nil
}

func (f *fakeStore) ClaimRun(_ context.Context, scheduleID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claims = append(f.claims, scheduleID)
	if ok, set := f.claimable[scheduleID]; set {
		return ok, nil
	}
	return true, nil
}

func (f *fakeStore) ReleaseRun(_ context.Context, scheduleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, scheduleID)
	return nil
}

func (f *fakeStore) CountRunsForDueSince(_ context.Context, scheduleID string, _, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCounts[scheduleID], nil
}

type fakeTransferrer struct {
	mu       sync.Mutex
	err      error
	calls    int
	transfer *domain.Transfer
}

func (f *fakeTransferrer) ScheduledTransfer(_ context.Context, _, _ string, _ decimal.Decimal) (*domain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.transfer, nil
}

type recordedOutcome struct {
	scheduleID string
	dueAt      time.Time
	outcome    domain.RunOutcome
	reason     string
	transferID string
}

type fakeRecorder struct {
	mu        sync.Mutex
	outcomes  []recordedOutcome
	suspendAt int // RecordFailure returns true on this call number, 0 = never
	failures  int
}

func (f *fakeRecorder) RecordSuccess(_ context.Context, s *domain.RecurringSchedule, dueAt time.Time, transferID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recordedOutcome{
		scheduleID: s.ID, dueAt: dueAt, outcome: domain.RunSuccess, transferID: transferID,
	})
	return nil
}

func (f *fakeRecorder) RecordFailure(_ context.Context, s *domain.RecurringSchedule, dueAt time.Time, reason string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
	f.outcomes = append(f.outcomes, recordedOutcome{
		scheduleID: s.ID, dueAt: dueAt, outcome: domain.RunFailure, reason: reason,
	})
	return f.suspendAt > 0 && f.failures >= f.suspendAt, nil
}

type fakeScheduleNotifier struct {
	mu     sync.Mutex
	failed []string
}

func (f *fakeScheduleNotifier) ScheduleFailed(_ context.Context, s *domain.RecurringSchedule, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, s.ID)
}

// ---- harness ----

func dueSchedule(id string, nextRunAt time.Time) *domain.RecurringSchedule {
	return &domain.RecurringSchedule{
		ID:          id,
		OwnerID:     "U1",
		RecipientID: "U2",
		AmountUSD:   decimal.NewFromInt(50),
		Frequency:   domain.FrequencyWeekly,
		Status:      domain.ScheduleActive,
		NextRunAt:   nextRunAt,
	}
}

func newRunner(store *fakeStore, transfers *fakeTransferrer, recorder *fakeRecorder, notifier *fakeScheduleNotifier) *ScheduleRunner {
	return NewScheduleRunner(store, transfers, recorder, notifier, zap.NewNop(),
		time.Minute, 4, 4)
}

// ---- tests ----

func TestSweepRecordsSuccess(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s := dueSchedule("SCH-1", base.Add(-time.Hour))
	store := newFakeStore(s)
	transfers := &fakeTransferrer{transfer: &domain.Transfer{ID: "TRF-1"}}
	recorder := &fakeRecorder{}
	notifier := &fakeScheduleNotifier{}

	r := newRunner(store, transfers, recorder, notifier)
	r.SetClock(func() time.Time { return base })
	r.Sweep(context.Background())

	if transfers.calls != 1 {
		t.Fatalf("transfer calls = %d, want 1", transfers.calls)
	}
	if len(recorder.outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(recorder.outcomes))
	}
	got := recorder.outcomes[0]
	if got.outcome != domain.RunSuccess || got.transferID != "TRF-1" {
		t.Errorf("outcome = %+v, want success with TRF-1", got)
	}
	if !got.dueAt.Equal(s.NextRunAt) {
		t.Errorf("due_at = %v, want %v", got.dueAt, s.NextRunAt)
	}
	if len(store.releases) != 1 {
		t.Errorf("claim releases = %d, want 1", len(store.releases))
	}
	if len(notifier.failed) != 0 {
		t.Errorf("failure notifications = %v, want none", notifier.failed)
	}
}

func TestSweepRecordsFailure(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s := dueSchedule("SCH-1", base.Add(-time.Hour))
	store := newFakeStore(s)
	transfers := &fakeTransferrer{err: xerrors.ErrInsufficientFunds}
	notifier := &fakeScheduleNotifier{}

	t.Run("failure below ceiling", func(t *testing.T) {
		recorder := &fakeRecorder{}
		r := newRunner(store, transfers, recorder, notifier)
		r.SetClock(func() time.Time { return base })
		r.Sweep(context.Background())

		if len(recorder.outcomes) != 1 || recorder.outcomes[0].outcome != domain.RunFailure {
			t.Fatalf("outcomes = %+v, want one failure", recorder.outcomes)
		}
		if got, want := recorder.outcomes[0].reason, xerrors.ErrInsufficientFunds.Error(); got != want {
			t.Errorf("reason = %q, want %q", got, want)
		}
		if len(notifier.failed) != 0 {
			t.Errorf("notified = %v, want none below ceiling", notifier.failed)
		}
	})

	t.Run("ceiling triggers notification", func(t *testing.T) {
		recorder := &fakeRecorder{suspendAt: 1}
		r := newRunner(store, transfers, recorder, notifier)
		r.SetClock(func() time.Time { return base })
		r.Sweep(context.Background())

		if len(notifier.failed) != 1 || notifier.failed[0] != "SCH-1" {
			t.Fatalf("notified = %v, want [SCH-1]", notifier.failed)
		}
	})
}

func TestSweepClaimGuard(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s := dueSchedule("SCH-1", base.Add(-time.Hour))
	store := newFakeStore(s)
	store.claimable["SCH-1"] = false
	transfers := &fakeTransferrer{transfer: &domain.Transfer{ID: "TRF-1"}}
	recorder := &fakeRecorder{}

	r := newRunner(store, transfers, recorder, &fakeScheduleNotifier{})
	r.SetClock(func() time.Time { return base })
	r.Sweep(context.Background())

	if transfers.calls != 0 {
		t.Errorf("transfer calls = %d, want 0 when claim denied", transfers.calls)
	}
	if len(recorder.outcomes) != 0 {
		t.Errorf("outcomes = %+v, want none", recorder.outcomes)
	}
	if len(store.releases) != 0 {
		t.Errorf("releases = %d, want 0 for unclaimed schedule", len(store.releases))
	}
}

func TestSweepRetryCap(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s := dueSchedule("SCH-1", base.Add(-time.Hour))
	store := newFakeStore(s)
	store.runCounts["SCH-1"] = 4
	transfers := &fakeTransferrer{transfer: &domain.Transfer{ID: "TRF-1"}}
	recorder := &fakeRecorder{}

	r := newRunner(store, transfers, recorder, &fakeScheduleNotifier{})
	r.SetClock(func() time.Time { return base })
	r.Sweep(context.Background())

	if transfers.calls != 0 {
		t.Errorf("transfer calls = %d, want 0 once daily retry cap reached", transfers.calls)
	}
}

func TestSweepFansOutAllDue(t *testing.T) {
	base := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	store := newFakeStore(
		dueSchedule("SCH-1", base.Add(-time.Hour)),
		dueSchedule("SCH-2", base.Add(-2*time.Hour)),
		dueSchedule("SCH-3", base.Add(-3*time.Hour)),
	)
	transfers := &fakeTransferrer{transfer: &domain.Transfer{ID: "TRF-1"}}
	recorder := &fakeRecorder{}

	r := newRunner(store, transfers, recorder, &fakeScheduleNotifier{})
	r.SetClock(func() time.Time { return base })
	r.Sweep(context.Background())

	if transfers.calls != 3 {
		t.Errorf("transfer calls = %d, want 3", transfers.calls)
	}
	if len(recorder.outcomes) != 3 {
		t.Errorf("outcomes = %d, want 3", len(recorder.outcomes))
	}
}
