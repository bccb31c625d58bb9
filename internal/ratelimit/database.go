package ratelimit

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const windowLength = time.Minute

var errMissingDatabase = errors.New("database handle is required")

// Window counts the hits of one key within one fixed minute.
type Window struct {
	BucketKey   string    `gorm:"column:bucket_key;primaryKey;size:255;not null"`
	WindowStart time.Time `gorm:"column:window_start;primaryKey;not null"`
	Hits        int       `gorm:"column:hits;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Window) TableName() string {
	return "rate_limit_windows"
}

// DatabaseStore counts hits in fixed one-minute windows shared by every process on the database.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a DatabaseStore.
func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &DatabaseStore{db: db}, nil
}

// Allow records one hit in the current window and reports whether the window is within perMinute.
func (s *DatabaseStore) Allow(ctx context.Context, key string, perMinute int, now time.Time) (bool, error) {
	start := now.UTC().Truncate(windowLength)
	var hits int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		window := Window{BucketKey: key, WindowStart: start, Hits: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "bucket_key"}, {Name: "window_start"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"hits": gorm.Expr("hits + 1")}),
		}).Create(&window).Error; err != nil {
			return err
		}
		var stored Window
		if err := tx.Where("bucket_key = ? AND window_start = ?", key, start).Take(&stored).Error; err != nil {
			return err
		}
		hits = stored.Hits
		return tx.Where("bucket_key = ? AND window_start < ?", key, start).Delete(&Window{}).Error
	})
	if err != nil {
		return false, err
	}
	return hits <= perMinute, nil
}
