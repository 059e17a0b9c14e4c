package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"SNAPSHOT_STORE", "API_BASE_URL", "TICK_INTERVAL_MS", "BLOCK_REATTEMPT", "SNAPSHOT_RETENTION_HOURS", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, StoreFile, cfg.SnapshotStore)
	assert.Equal(t, "http://localhost:8080/api/v1", cfg.APIBaseURL)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.True(t, cfg.BlockReattempt)
	assert.Zero(t, cfg.SnapshotRetention)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SNAPSHOT_STORE", "Redis")
	t.Setenv("API_BASE_URL", "https://api.example.com/api/v1/")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("BLOCK_REATTEMPT", "false")
	t.Setenv("SNAPSHOT_RETENTION_HOURS", "48")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("MAX_DB_CONNS", "-3")

	cfg := Load()
	assert.Equal(t, StoreRedis, cfg.SnapshotStore)
	assert.Equal(t, "https://api.example.com/api/v1", cfg.APIBaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.False(t, cfg.BlockReattempt)
	assert.Equal(t, 48*time.Hour, cfg.SnapshotRetention)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int32(4), cfg.MaxDBConns)
}

func TestSnapshotKeys(t *testing.T) {
	key := CacheKey.ExamSnapshotKey(7, "E1")
	assert.Equal(t, "student:7:exam:E1:snapshot", key)

	id, ok := CacheKey.ExamIDFromSnapshotKey(7, key)
	assert.True(t, ok)
	assert.Equal(t, "E1", id)

	_, ok = CacheKey.ExamIDFromSnapshotKey(8, key)
	assert.False(t, ok)
	_, ok = CacheKey.ExamIDFromSnapshotKey(7, "student:7:exam::snapshot")
	assert.False(t, ok)
	_, ok = CacheKey.ExamIDFromSnapshotKey(7, "student:7:exam:E1:meta")
	assert.False(t, ok)

	assert.Equal(t, "student:7:exam:*:snapshot", CacheKey.ExamSnapshotPattern(7))
	assert.Equal(t, "student:*:exam:*:snapshot", CacheKey.AllExamSnapshotsPattern())
}
