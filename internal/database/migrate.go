package database

import (
	"backend/internal/model"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Migrate runs the versioned schema migrations
func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "20250901_create_tables",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&model.Division{},
					&model.User{},
					&model.RefreshToken{},
					&model.Category{},
					&model.Item{},
					&model.Request{},
					&model.RequestItem{},
					&model.StockMovement{},
					&model.Notification{},
					&model.AuditLog{},
				)
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"audit_logs", "notifications", "stock_movements",
					"request_items", "requests", "items", "categories",
					"refresh_tokens", "users", "divisions",
				)
			},
		},
		{
			ID: "20250901_request_indexes",
			Migrate: func(tx *gorm.DB) error {
				// The list view filters on these constantly
				if err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_requests_requester_created ON requests (requester_id, created_at DESC)").Error; err != nil {
					return err
				}
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_requests_stage ON requests (evaluator_status, admin_status)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Exec("DROP INDEX IF EXISTS idx_requests_requester_created").Error; err != nil {
					return err
				}
				return tx.Exec("DROP INDEX IF EXISTS idx_requests_stage").Error
			},
		},
	})

	return m.Migrate()
}
