package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addGenerationsHistoryIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_generations_history_indexes",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_generations_status_kind_created ON generations (status, kind, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_generations_preview_of ON generations (preview_of) WHERE preview_of IS NOT NULL`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_generations_preview_of`,
				`DROP INDEX IF EXISTS idx_generations_status_kind_created`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
