package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-portal/internal/model"
)

// PostgresStore keeps snapshots in the exam_snapshots table (see migrations/).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (*model.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM exam_snapshots
		 WHERE user_id = $1 AND exam_id = $2`, key.UserID, key.ExamID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decode(raw)
}

// Put upserts the snapshot. end_time keeps the value of the first write so the
// deadline column can never move.
func (s *PostgresStore) Put(ctx context.Context, key Key, snap *model.Snapshot) error {
	raw, err := encode(snap)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO exam_snapshots (user_id, exam_id, payload, end_time)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, exam_id) DO UPDATE
		 SET payload = EXCLUDED.payload, updated_at = NOW()`,
		key.UserID, key.ExamID, raw, snap.EndTime,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM exam_snapshots WHERE user_id = $1 AND exam_id = $2`,
		key.UserID, key.ExamID)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, userID int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT exam_id FROM exam_snapshots
		 WHERE user_id = $1
		 ORDER BY exam_id ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneExpired relies on end_time, which is indexed for this query.
func (s *PostgresStore) PruneExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM exam_snapshots WHERE end_time < $1`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
