package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"gorm.io/gorm"
)

func createCredentialsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_credentials",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CredentialModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_credentials_cooldown ON credentials (cooldown_until) WHERE health_status = 'unhealthy'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CredentialModel{})
		},
	}
}
