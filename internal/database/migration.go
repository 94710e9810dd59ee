package database

import (
	"fmt"

	"github.com/wfunc/coop-match/internal/logger"
	"github.com/wfunc/coop-match/internal/models"
	"go.uber.org/zap"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate() error {
	if DB == nil {
		return fmt.Errorf("数据库未初始化")
	}

	// 获取迁移锁, 避免多实例同时迁移
	lock, err := acquireMigrationLock()
	if err != nil {
		return fmt.Errorf("获取迁移锁失败: %w", err)
	}
	defer releaseMigrationLock(lock)

	logger.Info("开始数据库迁移...")

	// SQLite需要开启外键约束
	if DB.Dialector.Name() == "sqlite" {
		if err := DB.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			logger.Warn("开启SQLite外键约束失败", zap.Error(err))
		}
	}

	// 需要迁移的模型列表
	migrations := []interface{}{
		&models.Match{},
		&models.ReplayEvent{},
		&models.IdempotencyMarker{},
		&models.PadDecision{},
	}

	for _, model := range migrations {
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("迁移模型 %T 失败: %w", model, err)
		}
	}

	logger.Info("数据库迁移完成", zap.Int("models", len(migrations)))
	return nil
}
