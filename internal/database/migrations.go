package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/finishline/backend/internal/access"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationUppercaseAccessCodes      = "2026-09-20_uppercase_access_codes"
	migrationDeactivateExpiredSessions = "2026-10-01_deactivate_expired_mesario_sessions"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationUppercaseAccessCodes, apply: uppercaseAccessCodes},
		{name: migrationDeactivateExpiredSessions, apply: deactivateExpiredSessions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// uppercaseAccessCodes normalizes codes written before logins were made case-insensitive.
func uppercaseAccessCodes(db *gorm.DB) error {
	return db.Model(&access.MesarioSession{}).
		Where("code <> UPPER(code)").
		Update("code", gorm.Expr("UPPER(code)")).Error
}

func deactivateExpiredSessions(db *gorm.DB) error {
	return db.Model(&access.MesarioSession{}).
		Where("is_active = ? AND expires_at < ?", true, time.Now().UTC()).
		Update("is_active", false).Error
}
