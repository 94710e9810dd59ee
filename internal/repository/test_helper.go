package repository

import (
	"testing"

	"github.com/wfunc/coop-match/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		panic(err)
	}

	tables := []interface{}{
		&models.Match{},
		&models.ReplayEvent{},
		&models.IdempotencyMarker{},
		&models.PadDecision{},
	}

	if err := db.AutoMigrate(tables...); err != nil {
		panic(err)
	}

	return db
}

// TestDB 创建测试数据库，测试结束时自动关闭
func TestDB(t *testing.T) *gorm.DB {
	db := SetupTestDB()
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})
	return db
}

// CleanupTestDB 清空测试数据库中的所有表数据
func CleanupTestDB(db *gorm.DB) {
	tables := []string{
		"replay_events",
		"idempotency_markers",
		"pad_decisions",
		"matches",
	}
	for _, table := range tables {
		db.Exec("DELETE FROM " + table)
	}
}
