package game

import (
	"encoding/json"
	"time"
)

// MessageType 服务端下行消息类型
type MessageType string

// 带序列号的消息类型：写入回放日志，断线后可补发
const (
	MsgMatchState         MessageType = "MATCH_STATE"          // 全量状态快照
	MsgCoinDeposited      MessageType = "COIN_DEPOSITED"       // 金币投入
	MsgDecisionOwner      MessageType = "DECISION_OWNER"       // 决策归属确定
	MsgTowerDecided       MessageType = "TOWER_DECIDED"        // 塔型决策完成
	MsgCoinPicked         MessageType = "COIN_PICKED"          // 金币拾取
	MsgWeaponAssigned     MessageType = "WEAPON_ASSIGNED"      // 武器分配
	MsgLevelUp            MessageType = "LEVEL_UP"             // 团队升级
	MsgGamePause          MessageType = "GAME_PAUSE"           // 暂停
	MsgGameResume         MessageType = "GAME_RESUME"          // 恢复
	MsgMatchOver          MessageType = "MATCH_OVER"           // 对局结束
	MsgBuildStateSnapshot MessageType = "BUILD_STATE_SNAPSHOT" // 建造全量快照
	MsgWaveStarted        MessageType = "WAVE_STARTED"         // 新一波开始
	MsgPhaseChange        MessageType = "PHASE_CHANGE"         // 阶段切换
)

// 纯实时消息类型：不占序列号，不写回放日志，丢了就丢了
const (
	MsgPlayerInput        MessageType = "PLAYER_INPUT"        // 玩家输入
	MsgPlayerDisconnected MessageType = "PLAYER_DISCONNECTED" // 玩家断线
	MsgPlayerReconnected  MessageType = "PLAYER_RECONNECTED"  // 玩家重连
	MsgClockSync          MessageType = "CLOCK_SYNC"          // 时钟同步应答
)

// Envelope 下行消息信封
//
// 是否带序列号由构造函数决定，不是可选字段：
// NewSequenced 构造的消息才能进回放日志，NewLive 构造的永远不能。
type Envelope struct {
	Type      MessageType `json:"type"`
	Seq       int64       `json:"seq,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`

	sequenced bool
}

// NewSequenced 构造带序列号的持久消息
func NewSequenced(t MessageType, seq int64, data interface{}) *Envelope {
	return &Envelope{
		Type:      t,
		Seq:       seq,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
		sequenced: true,
	}
}

// NewLive 构造纯实时消息
func NewLive(t MessageType, data interface{}) *Envelope {
	return &Envelope{
		Type:      t,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Sequenced 消息是否带序列号
func (e *Envelope) Sequenced() bool {
	return e.sequenced
}

// Encode 序列化为JSON
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope 从回放日志载荷还原消息
//
// 日志里只有带序列号的消息，还原结果恒为 sequenced。
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	e.sequenced = true
	return &e, nil
}

// CoinDepositedData 金币投入事件
type CoinDepositedData struct {
	PadID       string `json:"padId"`
	PlayerID    string `json:"playerId"`
	Amount      int64  `json:"amount"`
	SharedCoins int64  `json:"sharedCoins"`
}

// DecisionOwnerData 决策归属事件
type DecisionOwnerData struct {
	PadID           string `json:"padId"`
	DecisionOwnerID string `json:"decisionOwnerId"`
}

// TowerDecidedData 塔型决策事件
type TowerDecidedData struct {
	PadID       string `json:"padId"`
	PlayerID    string `json:"playerId"`
	TowerTypeID string `json:"towerTypeId"`
}

// CoinPickedData 金币拾取事件
type CoinPickedData struct {
	PlayerID string   `json:"playerId"`
	Position Position `json:"position"`
	Amount   int64    `json:"amount"`
}

// WeaponAssignedData 武器分配事件
type WeaponAssignedData struct {
	PlayerID string `json:"playerId"`
	Weapon   Weapon `json:"weapon"`
}

// WaveStartedData 新一波开始事件
type WaveStartedData struct {
	WaveNumber  int   `json:"waveNumber"`
	WaveStartAt int64 `json:"waveStartAt"`
}

// MatchOverData 对局结束事件
type MatchOverData struct {
	Victory bool `json:"victory"`
}

// PlayerInputData 玩家输入事件
type PlayerInputData struct {
	PlayerID string   `json:"playerId"`
	Position Position `json:"position"`
}

// PlayerPresenceData 玩家上下线通知
type PlayerPresenceData struct {
	PlayerID string `json:"playerId"`
}

// ClockSyncData 时钟同步应答
type ClockSyncData struct {
	ClientTime int64 `json:"clientTime"`
	ServerTime int64 `json:"serverTime"`
}

// PauseData 暂停/恢复事件
type PauseData struct {
	PlayerID string `json:"playerId"`
}
