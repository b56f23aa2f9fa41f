package attempts_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/campusgate/internal/attempts"
	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingJournal rejects every write
type failingJournal struct{}

func (failingJournal) LoadAll(ctx context.Context) (map[string]models.AttemptRecord, error) {
	return nil, errors.New("journal offline")
}

func (failingJournal) Save(ctx context.Context, identifier string, record models.AttemptRecord) error {
	return errors.New("journal offline")
}

func (failingJournal) Delete(ctx context.Context, identifier string) error {
	return errors.New("journal offline")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestTracker(clock *fakeClock, opts ...attempts.Option) *attempts.Tracker {
	opts = append([]attempts.Option{attempts.WithClock(clock.Now)}, opts...)
	return attempts.NewTracker(attempts.DefaultPolicy(), discardLogger(), opts...)
}

func TestTracker_UnknownIdentifierIsUnrestricted(t *testing.T) {
	tracker := newTestTracker(newFakeClock())

	info := tracker.GetAttemptInfo("nobody@u.edu")

	assert.False(t, info.Deactivated)
	assert.Zero(t, info.LockoutSeconds)
	_, ok := tracker.Record("nobody@u.edu")
	assert.False(t, ok)
}

func TestTracker_GetAttemptInfoDoesNotMutate(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	tracker.RecordFailedAttempt("a@u.edu")
	tracker.RecordFailedAttempt("a@u.edu")
	before, _ := tracker.Record("a@u.edu")

	for i := 0; i < 50; i++ {
		assert.Equal(t, models.AttemptInfo{}, tracker.GetAttemptInfo("a@u.edu"))
	}

	after, _ := tracker.Record("a@u.edu")
	assert.Equal(t, before, after)
	assert.Equal(t, 2, after.FailureCount)
}

func TestTracker_LockoutAfterThreeFailures(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	assert.Zero(t, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds)
	assert.Zero(t, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds)

	info := tracker.RecordFailedAttempt("a@u.edu")
	assert.Equal(t, 30, info.LockoutSeconds)
	assert.False(t, info.Deactivated)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 20, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)

	clock.Advance(500 * time.Millisecond)
	assert.Equal(t, 20, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds, "remaining seconds round up")

	clock.Advance(20 * time.Second)
	assert.Zero(t, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)
}

func TestTracker_IdentifiersAreNormalized(t *testing.T) {
	tracker := newTestTracker(newFakeClock())

	tracker.RecordFailedAttempt("A@U.edu")
	tracker.RecordFailedAttempt(" a@u.edu ")
	info := tracker.RecordFailedAttempt("a@U.EDU")

	assert.Equal(t, 30, info.LockoutSeconds)
	assert.Equal(t, 30, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)
}

func TestTracker_IdentifiersAreIndependent(t *testing.T) {
	tracker := newTestTracker(newFakeClock())

	for i := 0; i < 3; i++ {
		tracker.RecordFailedAttempt("a@u.edu")
	}

	assert.Equal(t, 30, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)
	assert.Zero(t, tracker.GetAttemptInfo("b@u.edu").LockoutSeconds)
}

func TestTracker_EscalatingLockout(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	for i := 0; i < 3; i++ {
		tracker.RecordFailedAttempt("a@u.edu")
	}
	clock.Advance(31 * time.Second)

	assert.Equal(t, 30, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds, "4th failure stays on the first step")
	clock.Advance(31 * time.Second)

	assert.Equal(t, 300, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds)
	clock.Advance(6 * time.Minute)

	tracker.RecordFailedAttempt("a@u.edu")
	clock.Advance(6 * time.Minute)

	assert.Equal(t, 1800, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds)
}

func TestTracker_LockNeverShortens(t *testing.T) {
	clock := newFakeClock()
	policy := attempts.Policy{
		Steps: []attempts.Step{
			{Failures: 1, Lockout: time.Minute},
			{Failures: 2, Lockout: 2 * time.Minute},
		},
		DeactivateAfter: 10,
	}
	tracker := attempts.NewTracker(policy, discardLogger(), attempts.WithClock(clock.Now))

	tracker.RecordFailedAttempt("a@u.edu")
	tracker.RecordFailedAttempt("a@u.edu")
	first, _ := tracker.Record("a@u.edu")
	require.NotNil(t, first.LockedUntil)

	// a third failure at the same instant maps to the same step and must not move the lock earlier
	tracker.RecordFailedAttempt("a@u.edu")
	second, _ := tracker.Record("a@u.edu")
	require.NotNil(t, second.LockedUntil)
	assert.False(t, second.LockedUntil.Before(*first.LockedUntil))
	assert.Equal(t, 120, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)
}

func TestTracker_SuccessResetsCount(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	for i := 0; i < 3; i++ {
		tracker.RecordFailedAttempt("a@u.edu")
	}
	require.Equal(t, 30, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)

	tracker.RecordSuccessAttempt("a@u.edu")

	assert.Equal(t, models.AttemptInfo{}, tracker.GetAttemptInfo("a@u.edu"))
	assert.Zero(t, tracker.RecordFailedAttempt("a@u.edu").LockoutSeconds, "count restarts from zero")
	rec, ok := tracker.Record("a@u.edu")
	require.True(t, ok)
	assert.Equal(t, 1, rec.FailureCount)
}

func TestTracker_DeactivationIsPermanent(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	var info models.AttemptInfo
	for i := 0; i < 10; i++ {
		info = tracker.RecordFailedAttempt("a@u.edu")
		clock.Advance(time.Hour)
	}
	assert.True(t, info.Deactivated)
	assert.Zero(t, info.LockoutSeconds)

	tracker.RecordSuccessAttempt("a@u.edu")
	assert.True(t, tracker.GetAttemptInfo("a@u.edu").Deactivated)

	clock.Advance(24 * 365 * time.Hour)
	assert.True(t, tracker.GetAttemptInfo("a@u.edu").Deactivated)

	// idempotent once deactivated
	info = tracker.RecordFailedAttempt("a@u.edu")
	assert.True(t, info.Deactivated)
	rec, _ := tracker.Record("a@u.edu")
	assert.Zero(t, rec.FailureCount)
	assert.Nil(t, rec.LockedUntil)
}

func TestTracker_PruneKeepsLockedAndDeactivated(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)
	ctx := context.Background()

	tracker.RecordFailedAttempt("stale@u.edu")
	for i := 0; i < 10; i++ {
		tracker.RecordFailedAttempt("gone@u.edu")
	}
	clock.Advance(2 * time.Hour)
	for i := 0; i < 7; i++ {
		tracker.RecordFailedAttempt("locked@u.edu")
	}
	tracker.RecordFailedAttempt("fresh@u.edu")

	removed := tracker.Prune(ctx, time.Hour)

	assert.Equal(t, 1, removed)
	_, ok := tracker.Record("stale@u.edu")
	assert.False(t, ok)
	_, ok = tracker.Record("gone@u.edu")
	assert.True(t, ok)
	_, ok = tracker.Record("locked@u.edu")
	assert.True(t, ok)
	_, ok = tracker.Record("fresh@u.edu")
	assert.True(t, ok)
}

func TestTracker_RestoreFromJournal(t *testing.T) {
	clock := newFakeClock()
	journal := attempts.NewMemoryJournal()
	ctx := context.Background()

	first := newTestTracker(clock, attempts.WithJournal(journal))
	for i := 0; i < 3; i++ {
		first.RecordFailedAttempt("a@u.edu")
	}
	for i := 0; i < 10; i++ {
		first.RecordFailedAttempt("b@u.edu")
	}
	first.RecordFailedAttempt("c@u.edu")
	first.RecordSuccessAttempt("c@u.edu")

	clock.Advance(5 * time.Second)
	second := newTestTracker(clock, attempts.WithJournal(journal))
	require.NoError(t, second.Restore(ctx))

	assert.Equal(t, 25, second.GetAttemptInfo("a@u.edu").LockoutSeconds)
	assert.True(t, second.GetAttemptInfo("b@u.edu").Deactivated)
	_, ok := second.Record("c@u.edu")
	assert.False(t, ok)
}

func TestTracker_JournalFailureDoesNotFailOperations(t *testing.T) {
	tracker := newTestTracker(newFakeClock(), attempts.WithJournal(failingJournal{}))

	for i := 0; i < 2; i++ {
		tracker.RecordFailedAttempt("a@u.edu")
	}
	info := tracker.RecordFailedAttempt("a@u.edu")
	assert.Equal(t, 30, info.LockoutSeconds)

	tracker.RecordSuccessAttempt("a@u.edu")
	assert.Equal(t, models.AttemptInfo{}, tracker.GetAttemptInfo("a@u.edu"))

	assert.Error(t, tracker.Restore(context.Background()))
}

func TestTracker_ConcurrentFailures(t *testing.T) {
	tracker := newTestTracker(newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordFailedAttempt("a@u.edu")
		}()
	}
	wg.Wait()

	rec, ok := tracker.Record("a@u.edu")
	require.True(t, ok)
	assert.Equal(t, 9, rec.FailureCount)
	assert.False(t, rec.Deactivated)
}

// blockingJournal holds every Save made after arm until release is closed
type blockingJournal struct {
	*attempts.MemoryJournal
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingJournal() *blockingJournal {
	return &blockingJournal{
		MemoryJournal: attempts.NewMemoryJournal(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (j *blockingJournal) Save(ctx context.Context, identifier string, record models.AttemptRecord) error {
	if j.armed.Load() {
		j.once.Do(func() { close(j.entered) })
		<-j.release
	}
	return j.MemoryJournal.Save(ctx, identifier, record)
}

func TestTracker_SlowJournalDoesNotBlockReads(t *testing.T) {
	journal := newBlockingJournal()
	tracker := newTestTracker(newFakeClock(), attempts.WithJournal(journal))

	tracker.RecordFailedAttempt("a@u.edu")
	tracker.RecordFailedAttempt("a@u.edu")
	journal.armed.Store(true)

	written := make(chan struct{})
	go func() {
		defer close(written)
		tracker.RecordFailedAttempt("a@u.edu")
	}()
	<-journal.entered

	read := make(chan models.AttemptInfo)
	go func() { read <- tracker.GetAttemptInfo("a@u.edu") }()

	select {
	case info := <-read:
		assert.Equal(t, 30, info.LockoutSeconds)
	case <-time.After(time.Second):
		t.Fatal("GetAttemptInfo waited on the journal")
	}

	close(journal.release)
	<-written

	records, err := journal.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, records["a@u.edu"].FailureCount)
}

// Three wrong passwords lock the identifier for the first step; once it
// expires a correct login goes through and the count is back to zero.
func TestTracker_LockoutWindowScenario(t *testing.T) {
	clock := newFakeClock()
	tracker := newTestTracker(clock)

	for i := 0; i < 3; i++ {
		tracker.RecordFailedAttempt("a@u.edu")
	}
	assert.Equal(t, 30, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)

	clock.Advance(10 * time.Second)
	assert.Equal(t, 20, tracker.GetAttemptInfo("a@u.edu").LockoutSeconds)

	clock.Advance(21 * time.Second)
	assert.False(t, tracker.GetAttemptInfo("a@u.edu").Blocked())

	tracker.RecordSuccessAttempt("a@u.edu")
	_, ok := tracker.Record("a@u.edu")
	assert.False(t, ok)
}
