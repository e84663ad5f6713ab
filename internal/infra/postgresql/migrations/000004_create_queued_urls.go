package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"gorm.io/gorm"
)

func createQueuedURLsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_queued_urls",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.QueuedURLModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_queued_urls_site_url ON queued_urls (site_id, url)`,
				`CREATE INDEX IF NOT EXISTS idx_queued_urls_site_created ON queued_urls (site_id, created_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.QueuedURLModel{})
		},
	}
}
