package attempts

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
	pkglogger "github.com/BradenHooton/campusgate/pkg/logger"
)

const journalTimeout = 2 * time.Second

// Tracker maps login identifiers to their failure history and decides
// whether an attempt may proceed. Its operations never fail: journal errors
// are logged and the in-memory record stays authoritative.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*models.AttemptRecord

	// journalMu orders journal writes; it is never held together with mu
	// while the journal is called, so readers are not blocked by I/O.
	journalMu sync.Mutex
	policy  Policy
	journal Journal
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the wall clock (tests)
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithJournal enables write-through persistence
func WithJournal(journal Journal) Option {
	return func(t *Tracker) {
		t.journal = journal
	}
}

// NewTracker creates a Tracker for the given policy
func NewTracker(policy Policy, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		records: make(map[string]*models.AttemptRecord),
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the lockout table in use
func (t *Tracker) Policy() Policy {
	return t.policy
}

// GetAttemptInfo reports the current status of identifier without mutating anything
func (t *Tracker) GetAttemptInfo(identifier string) models.AttemptInfo {
	key := models.NormalizeIdentifier(identifier)

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key]
	if !ok {
		return models.AttemptInfo{}
	}
	return infoFor(rec, t.now())
}

// RecordFailedAttempt registers a failure and returns the resulting status
func (t *Tracker) RecordFailedAttempt(identifier string) models.AttemptInfo {
	key := models.NormalizeIdentifier(identifier)
	if key == "" {
		return models.AttemptInfo{}
	}

	t.mu.Lock()
	now := t.now()
	rec, ok := t.records[key]
	if !ok {
		rec = &models.AttemptRecord{}
		t.records[key] = rec
	}

	if rec.Deactivated {
		info := infoFor(rec, now)
		t.mu.Unlock()
		return info
	}

	rec.FailureCount++
	failedAt := now
	rec.LastFailureAt = &failedAt

	if t.policy.ShouldDeactivate(rec.FailureCount) {
		rec.Deactivated = true
		rec.LockedUntil = nil
	} else if lockout := t.policy.LockoutFor(rec.FailureCount); lockout > 0 {
		until := now.Add(lockout)
		// a new failure never shortens an existing lock
		if rec.LockedUntil == nil || until.After(*rec.LockedUntil) {
			rec.LockedUntil = &until
		}
	}

	info := infoFor(rec, now)
	t.mu.Unlock()

	t.flush(key)
	return info
}

// RecordSuccessAttempt resets the failure count and any temporary lock.
// Deactivation is never cleared here.
func (t *Tracker) RecordSuccessAttempt(identifier string) {
	key := models.NormalizeIdentifier(identifier)

	t.mu.Lock()
	rec, ok := t.records[key]
	if !ok {
		t.mu.Unlock()
		return
	}

	if rec.Deactivated {
		rec.FailureCount = 0
		rec.LockedUntil = nil
	} else {
		delete(t.records, key)
	}
	t.mu.Unlock()

	t.flush(key)
}

// Record returns a copy of the record for identifier, if any
func (t *Tracker) Record(identifier string) (models.AttemptRecord, bool) {
	key := models.NormalizeIdentifier(identifier)

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[key]
	if !ok {
		return models.AttemptRecord{}, false
	}
	return *rec, true
}

// Restore replaces the in-memory records with the journal contents
func (t *Tracker) Restore(ctx context.Context) error {
	if t.journal == nil {
		return nil
	}

	loaded, err := t.journal.LoadAll(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = make(map[string]*models.AttemptRecord, len(loaded))
	for id, rec := range loaded {
		rec := rec
		t.records[id] = &rec
	}

	t.logger.Info("attempt records restored", slog.Int("count", len(loaded)))
	return nil
}

// Prune drops records that are neither deactivated nor locked and whose
// last failure is older than retention. It returns the number removed.
func (t *Tracker) Prune(ctx context.Context, retention time.Duration) int {
	t.mu.Lock()
	now := t.now()
	cutoff := now.Add(-retention)
	var removed []string

	for key, rec := range t.records {
		if rec.Deactivated || rec.IsLocked(now) {
			continue
		}
		if rec.LastFailureAt != nil && rec.LastFailureAt.After(cutoff) {
			continue
		}
		delete(t.records, key)
		removed = append(removed, key)
	}
	t.mu.Unlock()

	for _, key := range removed {
		t.flush(key)
	}
	return len(removed)
}

// flush writes the current state of key to the journal, or deletes it when
// the record is gone. It re-reads the record after taking journalMu so that
// two racing writers can never leave an older state behind.
func (t *Tracker) flush(key string) {
	if t.journal == nil {
		return
	}

	t.journalMu.Lock()
	defer t.journalMu.Unlock()

	t.mu.RLock()
	current, ok := t.records[key]
	var rec models.AttemptRecord
	if ok {
		rec = *current
	}
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	if ok {
		if err := t.journal.Save(ctx, key, rec); err != nil {
			t.logger.Error("failed to persist attempt record",
				slog.String("identifier", pkglogger.SanitizedIdentifier(key)),
				slog.Any("error", err))
		}
		return
	}

	if err := t.journal.Delete(ctx, key); err != nil {
		t.logger.Error("failed to delete attempt record",
			slog.String("identifier", pkglogger.SanitizedIdentifier(key)),
			slog.Any("error", err))
	}
}

func infoFor(rec *models.AttemptRecord, now time.Time) models.AttemptInfo {
	if rec.Deactivated {
		return models.AttemptInfo{Deactivated: true}
	}
	if !rec.IsLocked(now) {
		return models.AttemptInfo{}
	}
	remaining := rec.LockedUntil.Sub(now)
	return models.AttemptInfo{LockoutSeconds: int(math.Ceil(remaining.Seconds()))}
}
