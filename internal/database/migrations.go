package database

import (
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Run by the migrator when no previous migration is recorded, creating the
		// latest schema directly.
		slog.Info("clean database detected, running full schema initialization")

		return txn.AutoMigrate(&Upload{}, &PredictionRun{}, &RetrainRun{})
	})

	return migrator
}
