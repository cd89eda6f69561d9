package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port          string
	Env           string
	AllowedOrigin string

	PrimaryStore string
	SQLitePath   string
	DatabaseURL  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	BackupTTLDays int

	KeyPrefix   string
	UndoLimit   int
	RecentLimit int
	Timezone    string

	KafkaBrokers string
	KafkaTopic   string
}

var defaults = map[string]any{
	"PORT":            "8080",
	"APP_ENV":         "development",
	"ALLOWED_ORIGIN":  "http://127.0.0.1:3000",
	"PRIMARY_STORE":   StoreSQLite,
	"SQLITE_PATH":     "dhastore.db",
	"DATABASE_URL":    "",
	"REDIS_ADDR":      "",
	"REDIS_PASSWORD":  "",
	"REDIS_DB":        0,
	"BACKUP_TTL_DAYS": 365,
	"KEY_PREFIX":      "dhastore_",
	"UNDO_LIMIT":      50,
	"RECENT_LIMIT":    20,
	"TIMEZONE":        "",
	"KAFKA_BROKERS":   "",
	"KAFKA_TOPIC":     "dhastore.sales",
}

// Load reads the environment. Numbers that fail to parse or are out of
// range fall back to their defaults.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	redisDB := v.GetInt("REDIS_DB")
	if redisDB < 0 {
		redisDB = 0
	}

	return Config{
		Port:          strings.TrimSpace(v.GetString("PORT")),
		Env:           strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		AllowedOrigin: v.GetString("ALLOWED_ORIGIN"),
		PrimaryStore:  strings.ToLower(strings.TrimSpace(v.GetString("PRIMARY_STORE"))),
		SQLitePath:    v.GetString("SQLITE_PATH"),
		DatabaseURL:   v.GetString("DATABASE_URL"),
		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		BackupTTLDays: positiveInt(v, "BACKUP_TTL_DAYS"),
		KeyPrefix:     v.GetString("KEY_PREFIX"),
		UndoLimit:     positiveInt(v, "UNDO_LIMIT"),
		RecentLimit:   positiveInt(v, "RECENT_LIMIT"),
		Timezone:      strings.TrimSpace(v.GetString("TIMEZONE")),
		KafkaBrokers:  v.GetString("KAFKA_BROKERS"),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
	}
}

func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) BackupTTL() time.Duration {
	return time.Duration(c.BackupTTLDays) * 24 * time.Hour
}

// Location resolves TIMEZONE; empty means the host's local zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Brokers splits KAFKA_BROKERS, dropping blanks.
func (c Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
