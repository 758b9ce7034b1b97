// Package dbtest opens throwaway SQLite databases for repository tests.
package dbtest

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/pkg/db/models"
)

// AllModels lists every table the services touch.
func AllModels() []any {
	return []any{
		&models.User{},
		&models.Drug{},
		&models.Cart{},
		&models.CartInventoryGroup{},
		&models.CartLineItem{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.OrderStatusEvent{},
		&models.Notification{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// Open returns an in-memory database migrated with AllModels. A single
// connection keeps the memory database alive and serializes writers.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}
