package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/campaign-dispatcher/internal/repository"
	"gorm.io/gorm"
)

func createDispatchOutcomesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_dispatch_outcomes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DispatchOutcomeModel{}); err != nil {
				return err
			}
			// outcomes are deleted with their run
			if tx.Migrator().HasConstraint(&repository.DispatchRunModel{}, "Outcomes") {
				return nil
			}
			return tx.Migrator().CreateConstraint(&repository.DispatchRunModel{}, "Outcomes")
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DispatchOutcomeModel{})
		},
	}
}
