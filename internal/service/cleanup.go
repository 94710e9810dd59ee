package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartCleanupTask 启动过期数据清理任务
//
// 存储层没有原生TTL，按周期硬删除过期的对局文档、回放日志
// 和幂等/决策标记。ctx取消后任务退出。
func (s *MatchService) StartCleanupTask(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanupExpired(ctx)
			}
		}
	}()
}

// cleanupExpired 执行一轮过期清理
func (s *MatchService) cleanupExpired(ctx context.Context) {
	now := time.Now()

	matches, err := s.matchRepo.CleanupExpired(ctx, now)
	if err != nil {
		s.logger.Error("清理过期对局失败", zap.Error(err))
	}
	events, err := s.replayRepo.CleanupExpired(ctx, now)
	if err != nil {
		s.logger.Error("清理过期回放日志失败", zap.Error(err))
	}
	markers, err := s.markerRepo.CleanupExpired(ctx, now)
	if err != nil {
		s.logger.Error("清理过期标记失败", zap.Error(err))
	}

	if matches+events+markers > 0 {
		s.logger.Info("过期数据清理完成",
			zap.Int64("matches", matches),
			zap.Int64("replay_events", events),
			zap.Int64("markers", markers))
	}
}
