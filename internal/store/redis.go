package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
)

// RedisStore keeps one string key per snapshot. Keys carry no TTL: an entry
// lives until the attempt is submitted.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a RedisStore.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key Key) (*model.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return decode(raw)
}

func (s *RedisStore) Put(ctx context.Context, key Key, snap *model.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key.String(), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.rdb.Del(ctx, key.String()).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, userID int) ([]string, error) {
	var ids []string

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.ExamSnapshotPattern(userID), 100).Iterator()
	for iter.Next(ctx) {
		if examID, ok := config.CacheKey.ExamIDFromSnapshotKey(userID, iter.Val()); ok {
			ids = append(ids, examID)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan snapshots: %w", err)
	}

	sort.Strings(ids)
	return ids, nil
}

// PruneExpired scans every snapshot key. A key rewritten between the read and
// the delete is re-checked with WATCH so a live session is never dropped.
func (s *RedisStore) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	cutoff := before.UnixMilli()
	n := 0

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.AllExamSnapshotsPattern(), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			if !expiredBefore(raw, cutoff) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				n++
			}
			return err
		}, key)
		if err != nil && !errors.Is(err, redis.Nil) && !errors.Is(err, redis.TxFailedErr) {
			return n, fmt.Errorf("redis prune snapshot %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis scan snapshots: %w", err)
	}
	return n, nil
}
