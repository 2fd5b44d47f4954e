package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/codegen-engine/internal/repository"
	"gorm.io/gorm"
)

func createGenerationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_generations",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.GenerationModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.GenerationModel{})
		},
	}
}
