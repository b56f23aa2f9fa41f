package repositories

import (
	"context"

	"github.com/BradenHooton/campusgate/internal/database"
	"github.com/BradenHooton/campusgate/internal/models"
)

// AttemptRecordRepository persists tracker records in Postgres.
// It satisfies attempts.Journal.
type AttemptRecordRepository struct {
	db *database.DB
}

// NewAttemptRecordRepository creates a new AttemptRecordRepository
func NewAttemptRecordRepository(db *database.DB) *AttemptRecordRepository {
	return &AttemptRecordRepository{db: db}
}

// LoadAll returns every stored record keyed by identifier
func (r *AttemptRecordRepository) LoadAll(ctx context.Context) (map[string]models.AttemptRecord, error) {
	query := `
		SELECT identifier, failure_count, last_failure_at, locked_until, deactivated
		FROM attempt_records
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	records := make(map[string]models.AttemptRecord)
	for rows.Next() {
		var (
			identifier string
			rec        models.AttemptRecord
		)
		if err := rows.Scan(&identifier, &rec.FailureCount, &rec.LastFailureAt, &rec.LockedUntil, &rec.Deactivated); err != nil {
			return nil, database.MapPostgresError(err)
		}
		records[identifier] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return records, nil
}

// Save upserts the record for identifier
func (r *AttemptRecordRepository) Save(ctx context.Context, identifier string, record models.AttemptRecord) error {
	query := `
		INSERT INTO attempt_records (identifier, failure_count, last_failure_at, locked_until, deactivated, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (identifier) DO UPDATE SET
			failure_count = EXCLUDED.failure_count,
			last_failure_at = EXCLUDED.last_failure_at,
			locked_until = EXCLUDED.locked_until,
			deactivated = attempt_records.deactivated OR EXCLUDED.deactivated,
			updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query,
		identifier,
		record.FailureCount,
		record.LastFailureAt,
		record.LockedUntil,
		record.Deactivated,
	)
	return database.MapPostgresError(err)
}

// Delete removes the record for identifier. Deactivated records are kept.
func (r *AttemptRecordRepository) Delete(ctx context.Context, identifier string) error {
	query := `DELETE FROM attempt_records WHERE identifier = $1 AND deactivated = FALSE`

	_, err := r.db.Pool.Exec(ctx, query, identifier)
	return database.MapPostgresError(err)
}
