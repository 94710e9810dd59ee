package repository

import (
	"context"
	"time"

	"github.com/wfunc/coop-match/internal/models"
	"gorm.io/gorm"
)

// MatchRepository 对局仓储接口
type MatchRepository interface {
	BaseRepository
	Create(ctx context.Context, match *models.Match) error
	Update(ctx context.Context, match *models.Match) error
	FindByMatchID(ctx context.Context, matchID string) (*models.Match, error)
	TouchExpiry(ctx context.Context, matchID string, expiresAt time.Time) error
	CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// matchRepo 对局仓储实现
type matchRepo struct {
	*BaseRepo
}

// NewMatchRepository 创建对局仓储
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建对局记录
func (r *matchRepo) Create(ctx context.Context, match *models.Match) error {
	return r.db.WithContext(ctx).Create(match).Error
}

// Update 保存对局记录（整篇文档覆盖写）
func (r *matchRepo) Update(ctx context.Context, match *models.Match) error {
	return r.db.WithContext(ctx).Save(match).Error
}

// FindByMatchID 根据对局ID查找
func (r *matchRepo) FindByMatchID(ctx context.Context, matchID string) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// TouchExpiry 刷新对局过期时间
func (r *matchRepo) TouchExpiry(ctx context.Context, matchID string, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Match{}).
		Where("match_id = ?", matchID).
		Update("expires_at", expiresAt).Error
}

// CleanupExpired 清理过期对局
func (r *matchRepo) CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", expiredBefore).
		Delete(&models.Match{})
	return result.RowsAffected, result.Error
}

// WithTx 使用事务
func (r *matchRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &matchRepo{BaseRepo: NewBaseRepo(tx)}
}
