package sqlite

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"dhastore/backend/internal/store"
)

type document struct {
	Key       string `gorm:"primaryKey"`
	Body      string `gorm:"not null"`
	UpdatedAt time.Time
}

func (document) TableName() string { return "documents" }

// Medium keeps documents in a local SQLite file, the on-device analogue of
// browser storage.
type Medium struct {
	db *gorm.DB
}

func New(path string) (*Medium, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&document{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Medium{db: db}, nil
}

func (m *Medium) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *Medium) Name() string {
	return "sqlite"
}

func (m *Medium) Read(ctx context.Context, key string) ([]byte, error) {
	var doc document
	err := m.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return []byte(doc.Body), nil
}

func (m *Medium) Write(ctx context.Context, key string, value []byte) error {
	doc := document{Key: key, Body: string(value), UpdatedAt: time.Now().UTC()}
	return m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
}

var _ store.Medium = (*Medium)(nil)
