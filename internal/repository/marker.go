package repository

import (
	"context"
	"time"

	"github.com/wfunc/coop-match/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MarkerRepository 幂等标记与决策归属仓储接口
type MarkerRepository interface {
	BaseRepository
	// CheckAndMark 尝试登记幂等标记，返回本次是否为首次登记；
	// 重复登记时一并返回已绑定的序列号（未绑定为0）
	CheckAndMark(ctx context.Context, matchID, target, clientSeq string, expiresAt time.Time) (bool, int64, error)
	// BindSeq 把首次生效时分配的序列号绑定到标记上
	BindSeq(ctx context.Context, matchID, target, clientSeq string, seq int64) error
	// Exists 查询幂等标记是否已存在
	Exists(ctx context.Context, matchID, target, clientSeq string) (bool, error)
	// ClaimPad 尝试认领建造位，先写者胜，返回最终归属者与本次是否认领成功
	ClaimPad(ctx context.Context, matchID, padID, ownerID string, expiresAt time.Time) (string, bool, error)
	// FindPadOwner 查询建造位归属者，未认领返回空串
	FindPadOwner(ctx context.Context, matchID, padID string) (string, error)
	CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error)
}

// markerRepo 幂等标记仓储实现
type markerRepo struct {
	*BaseRepo
}

// NewMarkerRepository 创建幂等标记仓储
func NewMarkerRepository(db *gorm.DB) MarkerRepository {
	return &markerRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// CheckAndMark 尝试登记幂等标记
//
// 依赖 (match_id, target, client_seq) 唯一索引：插入冲突时不报错，
// 以受影响行数判断是否首次登记，整个判定在数据库端原子完成。
func (r *markerRepo) CheckAndMark(ctx context.Context, matchID, target, clientSeq string, expiresAt time.Time) (bool, int64, error) {
	marker := &models.IdempotencyMarker{
		MatchID:   matchID,
		Target:    target,
		ClientSeq: clientSeq,
		ExpiresAt: expiresAt,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(marker)
	if result.Error != nil {
		return false, 0, result.Error
	}
	if result.RowsAffected > 0 {
		return true, 0, nil
	}

	// 插入冲突，读出首次登记时绑定的序列号
	var existing models.IdempotencyMarker
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND target = ? AND client_seq = ?", matchID, target, clientSeq).
		First(&existing).Error
	if err != nil {
		return false, 0, err
	}
	return false, existing.Seq, nil
}

// BindSeq 绑定首次生效时分配的序列号
func (r *markerRepo) BindSeq(ctx context.Context, matchID, target, clientSeq string, seq int64) error {
	return r.db.WithContext(ctx).
		Model(&models.IdempotencyMarker{}).
		Where("match_id = ? AND target = ? AND client_seq = ?", matchID, target, clientSeq).
		Update("seq", seq).Error
}

// Exists 查询幂等标记是否已存在
func (r *markerRepo) Exists(ctx context.Context, matchID, target, clientSeq string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.IdempotencyMarker{}).
		Where("match_id = ? AND target = ? AND client_seq = ?", matchID, target, clientSeq).
		Count(&count).Error
	return count > 0, err
}

// ClaimPad 尝试认领建造位
func (r *markerRepo) ClaimPad(ctx context.Context, matchID, padID, ownerID string, expiresAt time.Time) (string, bool, error) {
	decision := &models.PadDecision{
		MatchID:   matchID,
		PadID:     padID,
		OwnerID:   ownerID,
		ExpiresAt: expiresAt,
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(decision)
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected > 0 {
		return ownerID, true, nil
	}

	// 插入冲突，读出已有归属者
	owner, err := r.FindPadOwner(ctx, matchID, padID)
	if err != nil {
		return "", false, err
	}
	return owner, false, nil
}

// FindPadOwner 查询建造位归属者
func (r *markerRepo) FindPadOwner(ctx context.Context, matchID, padID string) (string, error) {
	var decision models.PadDecision
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND pad_id = ?", matchID, padID).
		First(&decision).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return decision.OwnerID, nil
}

// CleanupExpired 清理过期标记
//
// 幂等标记与建造位归属在同一事务内清理。
func (r *markerRepo) CleanupExpired(ctx context.Context, expiredBefore time.Time) (int64, error) {
	var deleted int64
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		result := tx.Where("expires_at < ?", expiredBefore).
			Delete(&models.IdempotencyMarker{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected

		result = tx.Where("expires_at < ?", expiredBefore).
			Delete(&models.PadDecision{})
		if result.Error != nil {
			return result.Error
		}
		deleted += result.RowsAffected
		return nil
	})
	return deleted, err
}

// WithTx 使用事务
func (r *markerRepo) WithTx(tx *gorm.DB) BaseRepository {
	return &markerRepo{BaseRepo: NewBaseRepo(tx)}
}
