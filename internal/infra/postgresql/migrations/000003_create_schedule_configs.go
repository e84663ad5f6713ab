package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"gorm.io/gorm"
)

func createScheduleConfigsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_schedule_configs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ScheduleConfigModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_schedule_configs_due ON schedule_configs (next_run_at) WHERE enabled`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ScheduleConfigModel{})
		},
	}
}
