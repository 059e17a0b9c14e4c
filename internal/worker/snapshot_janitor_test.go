package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-portal/internal/model"
	"github.com/stemsi/exstem-portal/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyAbandonedSnapshots(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	s := store.NewMemoryStore()
	old := store.Key{UserID: 1, ExamID: "OLD"}
	recent := store.Key{UserID: 1, ExamID: "RECENT"}
	running := store.Key{UserID: 2, ExamID: "RUNNING"}

	require.NoError(t, s.Put(ctx, old, &model.Snapshot{EndTime: now.Add(-48 * time.Hour).UnixMilli()}))
	require.NoError(t, s.Put(ctx, recent, &model.Snapshot{EndTime: now.Add(-time.Hour).UnixMilli()}))
	require.NoError(t, s.Put(ctx, running, &model.Snapshot{EndTime: now.Add(time.Hour).UnixMilli()}))

	j := NewSnapshotJanitor(s, 24*time.Hour, time.Minute, zerolog.Nop())
	j.now = func() time.Time { return now }

	assert.Equal(t, 1, j.Sweep(ctx))
	assert.Equal(t, 0, j.Sweep(ctx))

	_, err := s.Get(ctx, old)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, recent)
	assert.NoError(t, err)
	_, err = s.Get(ctx, running)
	assert.NoError(t, err)
}

type failingPruner struct{ calls int }

func (p *failingPruner) PruneExpired(context.Context, time.Time) (int, error) {
	p.calls++
	return 0, errors.New("connection refused")
}

func TestStartSweepsOnceThenStopsOnCancel(t *testing.T) {
	p := &failingPruner{}
	j := NewSnapshotJanitor(p, time.Hour, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
	assert.Equal(t, 1, p.calls)
}
