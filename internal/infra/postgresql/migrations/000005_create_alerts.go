package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"gorm.io/gorm"
)

func createAlertsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_alerts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AlertModel{}, &repository.AlertEvaluationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_alerts_site_active ON alerts (site_id, created_at) WHERE resolved_at IS NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.AlertEvaluationModel{}, &repository.AlertModel{})
		},
	}
}
