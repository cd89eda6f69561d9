package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "PRIMARY_STORE", "UNDO_LIMIT", "RECENT_LIMIT", "BACKUP_TTL_DAYS", "KEY_PREFIX", "KAFKA_BROKERS", "TIMEZONE"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, StoreSQLite, cfg.PrimaryStore)
	assert.Equal(t, 50, cfg.UndoLimit)
	assert.Equal(t, 20, cfg.RecentLimit)
	assert.Equal(t, 365*24*time.Hour, cfg.BackupTTL())
	assert.Equal(t, "dhastore.sales", cfg.KafkaTopic)
	assert.Empty(t, cfg.Brokers())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PRIMARY_STORE", " Postgres ")
	t.Setenv("UNDO_LIMIT", "10")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("KEY_PREFIX", "test_")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, StorePostgres, cfg.PrimaryStore)
	assert.Equal(t, 10, cfg.UndoLimit)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "test_", cfg.KeyPrefix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers())
}

func TestLoadFallsBackOnInvalidNumbers(t *testing.T) {
	t.Setenv("UNDO_LIMIT", "lots")
	t.Setenv("RECENT_LIMIT", "-4")
	t.Setenv("BACKUP_TTL_DAYS", "0")

	cfg := Load()
	assert.Equal(t, 50, cfg.UndoLimit)
	assert.Equal(t, 20, cfg.RecentLimit)
	assert.Equal(t, 365, cfg.BackupTTLDays)
}

func TestLocation(t *testing.T) {
	loc, err := Config{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)

	loc, err = Config{Timezone: "UTC"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())

	_, err = Config{Timezone: "Nowhere/Atlantis"}.Location()
	assert.Error(t, err)
}
