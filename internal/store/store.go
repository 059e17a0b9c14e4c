package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/database"
	"github.com/stemsi/exstem-portal/internal/model"
)

// Store errors.
var (
	ErrNotFound = errors.New("snapshot not found")
	ErrCorrupt  = errors.New("snapshot is corrupt")
)

// Key addresses one cache entry: one student's attempt at one exam.
type Key struct {
	UserID int
	ExamID string
}

func (k Key) String() string {
	return config.CacheKey.ExamSnapshotKey(k.UserID, k.ExamID)
}

// SnapshotStore persists in-progress session snapshots so a reload resumes
// the attempt. Get returns ErrNotFound for a missing entry and ErrCorrupt for
// an entry that cannot be decoded.
type SnapshotStore interface {
	Get(ctx context.Context, key Key) (*model.Snapshot, error)
	Put(ctx context.Context, key Key, snap *model.Snapshot) error
	Delete(ctx context.Context, key Key) error
	// List returns the exam ids that have an entry for userID.
	List(ctx context.Context, userID int) ([]string, error)
}

// Pruner is implemented by stores that can drop every snapshot whose deadline
// is before a cutoff. Undecodable entries are left for the session to discard.
type Pruner interface {
	PruneExpired(ctx context.Context, before time.Time) (int, error)
}

var (
	_ Pruner = (*MemoryStore)(nil)
	_ Pruner = (*FileStore)(nil)
	_ Pruner = (*RedisStore)(nil)
	_ Pruner = (*PostgresStore)(nil)
)

// New builds the store selected by cfg.SnapshotStore. The returned func
// releases its connections.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (SnapshotStore, func(), error) {
	switch cfg.SnapshotStore {
	case config.StoreMemory:
		log.Warn().Msg("Using in-memory snapshot store; sessions will not survive a restart")
		return NewMemoryStore(), func() {}, nil

	case config.StoreFile, "":
		s, err := NewFileStore(cfg.SnapshotFile)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SnapshotFile).Msg("Using file snapshot store")
		return s, func() {}, nil

	case config.StoreRedis:
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(rdb), func() { _ = rdb.Close() }, nil

	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown snapshot store %q", cfg.SnapshotStore)
	}
}

func encode(snap *model.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return raw, nil
}

// expiredBefore reports whether raw decodes to a snapshot whose deadline is
// before cutoff (epoch ms).
func expiredBefore(raw []byte, cutoff int64) bool {
	snap, err := decode(raw)
	return err == nil && snap.EndTime < cutoff
}

func decode(raw []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &snap, nil
}
