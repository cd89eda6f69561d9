package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dhastore/backend/internal/config"
)

func validConfig() config.Config {
	return config.Config{PrimaryStore: config.StoreMemory, KeyPrefix: "dhastore_"}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown store":        func(c *config.Config) { c.PrimaryStore = "mongo" },
		"postgres without url": func(c *config.Config) { c.PrimaryStore = config.StorePostgres },
		"sqlite without path":  func(c *config.Config) { c.PrimaryStore = config.StoreSQLite },
		"empty prefix":         func(c *config.Config) { c.KeyPrefix = "" },
		"bad timezone":         func(c *config.Config) { c.Timezone = "Mars/Olympus" },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		assert.Error(t, validateConfig(cfg), name)
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	require.NoError(t, validateConfig(validConfig()))

	cfg := validConfig()
	cfg.PrimaryStore = config.StoreSQLite
	cfg.SQLitePath = "dhastore.db"
	cfg.Timezone = "UTC"
	require.NoError(t, validateConfig(cfg))
}

func TestOpenPrimaryMemoryAndSQLite(t *testing.T) {
	ctx := context.Background()

	medium, closeFn, err := openPrimary(ctx, validConfig())
	require.NoError(t, err)
	assert.Equal(t, "memory", medium.Name())
	assert.Nil(t, closeFn)

	cfg := validConfig()
	cfg.PrimaryStore = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "dhastore.db")
	medium, closeFn, err = openPrimary(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	defer func() { _ = closeFn() }()
	assert.Equal(t, "sqlite", medium.Name())

	require.NoError(t, medium.Write(ctx, "k", []byte(`[]`)))
}

func TestOpenBackupDisabledWithoutAddress(t *testing.T) {
	backup, err := openBackup(context.Background(), validConfig())
	require.NoError(t, err)
	assert.Nil(t, backup)
}

func TestOpenBackupReportsUnreachableRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := validConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	cfg.BackupTTLDays = 30
	backup, err := openBackup(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Nil(t, backup)
}
