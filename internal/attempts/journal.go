package attempts

import (
	"context"
	"sync"

	"github.com/BradenHooton/campusgate/internal/models"
)

// Journal persists attempt records so lockouts survive a restart
type Journal interface {
	LoadAll(ctx context.Context) (map[string]models.AttemptRecord, error)
	Save(ctx context.Context, identifier string, record models.AttemptRecord) error
	Delete(ctx context.Context, identifier string) error
}

// MemoryJournal keeps records in process memory
type MemoryJournal struct {
	mu      sync.Mutex
	records map[string]models.AttemptRecord
}

// NewMemoryJournal creates an empty MemoryJournal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{records: make(map[string]models.AttemptRecord)}
}

func (j *MemoryJournal) LoadAll(ctx context.Context) (map[string]models.AttemptRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make(map[string]models.AttemptRecord, len(j.records))
	for id, rec := range j.records {
		out[id] = rec
	}
	return out, nil
}

func (j *MemoryJournal) Save(ctx context.Context, identifier string, record models.AttemptRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.records[identifier] = record
	return nil
}

func (j *MemoryJournal) Delete(ctx context.Context, identifier string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delete(j.records, identifier)
	return nil
}
