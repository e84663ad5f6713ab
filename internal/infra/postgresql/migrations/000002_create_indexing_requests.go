package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"gorm.io/gorm"
)

func createIndexingRequestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_indexing_requests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.IndexingRequestModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_indexing_requests_quota ON indexing_requests (credential_id, submitted_at)`,
				`CREATE INDEX IF NOT EXISTS idx_indexing_requests_retry ON indexing_requests (next_retry_at) WHERE status = 'pending'`,
				`CREATE INDEX IF NOT EXISTS idx_indexing_requests_site ON indexing_requests (site_id, status, submitted_at)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.IndexingRequestModel{})
		},
	}
}
