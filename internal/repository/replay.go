package repository

import (
	"context"
	"time"

	"github.com/wfunc/coop-match/internal/database"
	apperrors "github.com/wfunc/coop-match/internal/errors"
	"github.com/wfunc/coop-match/internal/models"
	"gorm.io/gorm"
)

// ReplayRepository 回放日志仓储接口
type ReplayRepository interface {
	BaseRepository
	Append(ctx context.Context, event *models.ReplayEvent) error
	FindBySeq(ctx context.Context, matchID string, seq int64) (*models.ReplayEvent, error)
	ListAfter(ctx context.Context, matchID string, cursor int64) ([]*models.ReplayEvent, error)
	DeleteByMatchID(ctx context.Context, matchID string) error
	CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// replayRepo 回放日志仓储实现
type replayRepo struct {
	*BaseRepo
}

// NewReplayRepository 创建回放日志仓储
func NewReplayRepository(db *gorm.DB) ReplayRepository {
	return &replayRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Append 追加一条回放日志
//
// (match_id, seq) 上有唯一索引，同一序列号重复写入返回数据完整性错误。
func (r *replayRepo) Append(ctx context.Context, event *models.ReplayEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil && database.IsDuplicateKey(err) {
		return apperrors.Wrap(err, apperrors.ErrDataIntegrity, "replay seq already recorded")
	}
	return err
}

// FindBySeq 按序列号查找单条日志
func (r *replayRepo) FindBySeq(ctx context.Context, matchID string, seq int64) (*models.ReplayEvent, error) {
	var event models.ReplayEvent
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND seq = ?", matchID, seq).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListAfter 按序列号升序列出 cursor 之后的所有日志
func (r *replayRepo) ListAfter(ctx context.Context, matchID string, cursor int64) ([]*models.ReplayEvent, error) {
	var events []*models.ReplayEvent
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND seq > ?", matchID, cursor).
		Order("seq ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteByMatchID 删除指定对局的全部日志
func (r *replayRepo) DeleteByMatchID(ctx context.Context, matchID string) error {
	return r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Delete(&models.ReplayEvent{}).Error
}

// CleanupExpired 清理过期日志
func (r *replayRepo) CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", expiredBefore).
		Delete(&models.ReplayEvent{})
	return result.RowsAffected, result.Error
}

// WithTx 使用事务
func (r *replayRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &replayRepo{BaseRepo: NewBaseRepo(tx)}
}
