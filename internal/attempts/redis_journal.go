package attempts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/redis/go-redis/v9"
)

const defaultJournalPrefix = "campusgate:attempts:"

// RedisJournal stores each attempt record as a JSON value under prefix+identifier.
// Keys carry no TTL; expiry is handled by Tracker.Prune.
type RedisJournal struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisJournal creates a RedisJournal; an empty prefix selects the default
func NewRedisJournal(client redis.UniversalClient, prefix string) *RedisJournal {
	if prefix == "" {
		prefix = defaultJournalPrefix
	}
	return &RedisJournal{client: client, prefix: prefix}
}

func (j *RedisJournal) key(identifier string) string {
	return j.prefix + identifier
}

// LoadAll scans every record under the prefix
func (j *RedisJournal) LoadAll(ctx context.Context) (map[string]models.AttemptRecord, error) {
	records := make(map[string]models.AttemptRecord)

	iter := j.client.Scan(ctx, 0, j.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		raw, err := j.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to read attempt record: %w", err)
		}

		var rec models.AttemptRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode attempt record %s: %w", key, err)
		}
		records[strings.TrimPrefix(key, j.prefix)] = rec
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan attempt records: %w", err)
	}

	return records, nil
}

func (j *RedisJournal) Save(ctx context.Context, identifier string, record models.AttemptRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode attempt record: %w", err)
	}
	return j.client.Set(ctx, j.key(identifier), data, 0).Err()
}

func (j *RedisJournal) Delete(ctx context.Context, identifier string) error {
	return j.client.Del(ctx, j.key(identifier)).Err()
}
