package database

import (
	"errors"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/faces"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/payouts"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/finishline/backend/internal/ratelimit"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingPath = errors.New("database path is required")

// Models lists every table the service owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&profiles.Profile{},
		&catalog.Campaign{},
		&catalog.Photo{},
		&catalog.EventApplication{},
		&faces.PhotoFace{},
		&faces.UserFace{},
		&payouts.RevenueShare{},
		&payouts.PayoutRequest{},
		&payouts.PixChangeRequest{},
		&access.MesarioSession{},
		&access.PhotographerQrToken{},
		&access.EventAttendance{},
		&ratelimit.Window{},
		&migrationRecord{},
	}
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, err
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("path", path))
	return db, nil
}
