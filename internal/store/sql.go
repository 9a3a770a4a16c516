package store

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/encoding/json"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Document is one row of the SQL store.
type Document struct {
	ID        string    `gorm:"primaryKey;size:191"`
	Body      []byte    `gorm:"type:mediumblob;not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Document) TableName() string { return "boarcore_documents" }

// SQL keeps documents in a single table through GORM. Save is an upsert.
type SQL struct {
	db *gorm.DB
}

// NewSQL migrates the documents table and returns a store over db.
func NewSQL(ctx context.Context, db *gorm.DB) (*SQL, error) {
	if err := db.WithContext(ctx).AutoMigrate(&Document{}); err != nil {
		return nil, err
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Load(ctx context.Context, key string, v any) (bool, error) {
	var d Document
	err := s.db.WithContext(ctx).Take(&d, "id = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, decode(key, d.Body, v)
}

func (s *SQL) Save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d := Document{ID: key, Body: data, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&d).Error
}

// Close releases the pool behind the store.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
