package models

import (
	"time"
)

// Match 对局快照文档（用于持久化完整对局状态）
//
// 每个对局只有一条记录：State 字段存放完整的 MatchState JSON，
// 读取-修改-保存始终以整条记录为单位，保证单文档一致性。
type Match struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   string    `gorm:"uniqueIndex;size:64;not null" json:"match_id"`
	Status    string    `gorm:"size:20;not null" json:"status"` // waiting, playing, finished
	Seq       int64     `gorm:"default:0" json:"seq"`           // 最近分配的序列号
	State     string    `gorm:"type:text" json:"state"`         // JSON格式的完整对局状态
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Match) TableName() string {
	return "matches"
}

// ReplayEvent 回放日志条目
//
// 按 (match_id, seq) 唯一；只有带序列号的消息才会写入，
// 断线重连时按 seq 升序范围查询补发。
type ReplayEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   string    `gorm:"uniqueIndex:ux_replay_match_seq,priority:1;size:64;not null" json:"match_id"`
	Seq       int64     `gorm:"uniqueIndex:ux_replay_match_seq,priority:2;not null" json:"seq"`
	Type      string    `gorm:"size:40;not null" json:"type"`
	Payload   string    `gorm:"type:text" json:"payload"` // JSON格式的消息数据
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (ReplayEvent) TableName() string {
	return "replay_events"
}

// IdempotencyMarker 幂等标记
//
// 按 (match_id, target, client_seq) 唯一；存在即代表该变更已生效，
// 重试请求据此跳过二次扣减。Seq 记录首次生效时分配的序列号，
// 重试时按它从回放日志取出原事件重发。短TTL，过期后由清理任务删除。
type IdempotencyMarker struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   string    `gorm:"uniqueIndex:ux_idem_key,priority:1;size:64;not null" json:"match_id"`
	Target    string    `gorm:"uniqueIndex:ux_idem_key,priority:2;size:64;not null" json:"target"`
	ClientSeq string    `gorm:"uniqueIndex:ux_idem_key,priority:3;size:64;not null" json:"client_seq"`
	Seq       int64     `gorm:"default:0" json:"seq"` // 首次生效时分配的序列号，0表示尚未绑定
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (IdempotencyMarker) TableName() string {
	return "idempotency_markers"
}

// PadDecision 建造决策归属标记
//
// 按 (match_id, pad_id) 唯一，先写者胜；与对局文档分离存储，
// 校验归属时无需加载完整快照。
type PadDecision struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   string    `gorm:"uniqueIndex:ux_pad_decision,priority:1;size:64;not null" json:"match_id"`
	PadID     string    `gorm:"uniqueIndex:ux_pad_decision,priority:2;size:64;not null" json:"pad_id"`
	OwnerID   string    `gorm:"size:128;not null" json:"owner_id"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName 指定表名
func (PadDecision) TableName() string {
	return "pad_decisions"
}
