package game

import (
	"encoding/json"
	"math"

	"github.com/wfunc/coop-match/internal/errors"
)

// ActionType 客户端上行操作类型
type ActionType string

const (
	ActionInput          ActionType = "INPUT"
	ActionCoinDeposit    ActionType = "COIN_DEPOSIT"
	ActionTowerDecision  ActionType = "TOWER_DECISION"
	ActionCoinPickup     ActionType = "COIN_PICKUP"
	ActionWeaponPick     ActionType = "WEAPON_PICK"
	ActionHeartbeat      ActionType = "HEARTBEAT"
	ActionClockSync      ActionType = "CLOCK_SYNC_REQUEST"
	ActionWaveAdvance    ActionType = "WAVE_ADVANCE"
	ActionDisconnect     ActionType = "DISCONNECT"
	ActionPauseRequest   ActionType = "PAUSE_REQUEST"
	ActionResumeRequest  ActionType = "RESUME_REQUEST"
	ActionMatchOver      ActionType = "MATCH_OVER"
	ActionBuildStateSync ActionType = "BUILD_STATE_SYNC"
)

// hostOnlyActions 仅主机（0号位）可提交的操作
//
// 共享经济和建造字段只有一个指定写者，以此替代共识协议。
var hostOnlyActions = map[ActionType]bool{
	ActionCoinDeposit:    true,
	ActionTowerDecision:  true,
	ActionCoinPickup:     true,
	ActionWaveAdvance:    true,
	ActionBuildStateSync: true,
}

// IsHostOnly 操作是否仅主机可提交
func IsHostOnly(t ActionType) bool {
	return hostOnlyActions[t]
}

// anyStatusActions 不要求对局已开始的操作
//
// 心跳、对时与离线标记在waiting阶段同样有意义，
// 其余操作都只在playing状态下接受。
var anyStatusActions = map[ActionType]bool{
	ActionHeartbeat:  true,
	ActionClockSync:  true,
	ActionDisconnect: true,
}

// RequiresPlaying 操作是否要求对局处于playing状态
func RequiresPlaying(t ActionType) bool {
	return !anyStatusActions[t]
}

// IsKnownAction 操作类型是否在目录内
func IsKnownAction(t ActionType) bool {
	switch t {
	case ActionInput, ActionCoinDeposit, ActionTowerDecision, ActionCoinPickup,
		ActionWeaponPick, ActionHeartbeat, ActionClockSync, ActionWaveAdvance,
		ActionDisconnect, ActionPauseRequest, ActionResumeRequest,
		ActionMatchOver, ActionBuildStateSync:
		return true
	}
	return false
}

// 数值边界：坐标与金额必须有限且在合理量级内
const (
	maxCoordinate = 1e6
	maxAmount     = 1e9
	maxStringLen  = 128
)

func validFinite(v float64, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= limit
}

func validID(s string) bool {
	return s != "" && len(s) <= maxStringLen
}

// InputPayload INPUT 操作负载
type InputPayload struct {
	Position Position `json:"position"`
}

// Validate 校验负载
func (p *InputPayload) Validate() error {
	if !validFinite(p.Position.X, maxCoordinate) || !validFinite(p.Position.Y, maxCoordinate) {
		return errors.New(errors.ErrInvalidPayload, "position 超出范围")
	}
	return nil
}

// CoinDepositPayload COIN_DEPOSIT 操作负载
//
// ClientSeq 是调用方提供的单调计数器，幂等标记以它为键；
// PlayerID 是实际投币的玩家，主机代为上报，缺省为调用方。
type CoinDepositPayload struct {
	PadID     string `json:"padId"`
	Amount    int64  `json:"amount"`
	ClientSeq int64  `json:"clientSeq"`
	PlayerID  string `json:"playerId,omitempty"`
	Filled    bool   `json:"filled,omitempty"` // 本次投入后建造位是否已满
}

// Validate 校验负载
func (p *CoinDepositPayload) Validate() error {
	if !validID(p.PadID) {
		return errors.New(errors.ErrInvalidPayload, "padId 不能为空")
	}
	if p.Amount <= 0 || p.Amount > maxAmount {
		return errors.New(errors.ErrInvalidPayload, "amount 超出范围")
	}
	if p.ClientSeq < 0 {
		return errors.New(errors.ErrInvalidPayload, "clientSeq 不能为负")
	}
	return nil
}

// TowerDecisionPayload TOWER_DECISION 操作负载
type TowerDecisionPayload struct {
	PadID       string `json:"padId"`
	TowerTypeID string `json:"towerTypeId"`
	PlayerID    string `json:"playerId,omitempty"` // 做决策的玩家，缺省为调用方
}

// Validate 校验负载
func (p *TowerDecisionPayload) Validate() error {
	if !validID(p.PadID) {
		return errors.New(errors.ErrInvalidPayload, "padId 不能为空")
	}
	if !validID(p.TowerTypeID) {
		return errors.New(errors.ErrInvalidPayload, "towerTypeId 不能为空")
	}
	return nil
}

// CoinPickupPayload COIN_PICKUP 操作负载
type CoinPickupPayload struct {
	PlayerID string   `json:"playerId,omitempty"`
	Position Position `json:"position"`
	Amount   int64    `json:"amount"`
}

// Validate 校验负载
func (p *CoinPickupPayload) Validate() error {
	if !validFinite(p.Position.X, maxCoordinate) || !validFinite(p.Position.Y, maxCoordinate) {
		return errors.New(errors.ErrInvalidPayload, "position 超出范围")
	}
	if p.Amount < 0 || p.Amount > maxAmount {
		return errors.New(errors.ErrInvalidPayload, "amount 超出范围")
	}
	return nil
}

// WeaponPickPayload WEAPON_PICK 操作负载
type WeaponPickPayload struct {
	WeaponType string `json:"weaponType"`
}

// Validate 校验负载
func (p *WeaponPickPayload) Validate() error {
	if !validID(p.WeaponType) {
		return errors.New(errors.ErrInvalidPayload, "weaponType 不能为空")
	}
	return nil
}

// ClockSyncPayload CLOCK_SYNC_REQUEST 操作负载
type ClockSyncPayload struct {
	ClientTime int64 `json:"clientTime"`
}

// Validate 校验负载
func (p *ClockSyncPayload) Validate() error {
	if p.ClientTime < 0 {
		return errors.New(errors.ErrInvalidPayload, "clientTime 不能为负")
	}
	return nil
}

// WaveAdvancePayload WAVE_ADVANCE 操作负载
type WaveAdvancePayload struct {
	WaveNumber int `json:"waveNumber"`
}

// Validate 校验负载
func (p *WaveAdvancePayload) Validate() error {
	if p.WaveNumber <= 0 || p.WaveNumber > 100000 {
		return errors.New(errors.ErrInvalidPayload, "waveNumber 超出范围")
	}
	return nil
}

// MatchOverPayload MATCH_OVER 操作负载
type MatchOverPayload struct {
	Victory bool `json:"victory"`
}

// Validate 校验负载
func (p *MatchOverPayload) Validate() error {
	return nil
}

// BuildStateSyncPayload BUILD_STATE_SYNC 操作负载
type BuildStateSyncPayload struct {
	Version     int64        `json:"version"`
	SharedCoins int64        `json:"sharedCoins"`
	Pads        []PadSummary `json:"pads"`
}

// Validate 校验负载
func (p *BuildStateSyncPayload) Validate() error {
	if p.Version <= 0 {
		return errors.New(errors.ErrInvalidPayload, "version 必须为正")
	}
	if p.SharedCoins < 0 {
		return errors.New(errors.ErrInvalidPayload, "sharedCoins 不能为负")
	}
	for i := range p.Pads {
		if !validID(p.Pads[i].PadID) {
			return errors.New(errors.ErrInvalidPayload, "pads 中存在空 padId")
		}
		if !validFinite(p.Pads[i].HPRatio, 1) || p.Pads[i].HPRatio < 0 {
			return errors.New(errors.ErrInvalidPayload, "hpRatio 超出范围")
		}
	}
	return nil
}

// DecodePayload 解析并校验指定操作的负载
//
// 未知操作类型返回 ErrUnknownAction；负载不符合目录定义返回 ErrInvalidPayload。
// HEARTBEAT / DISCONNECT / PAUSE / RESUME 无负载，返回 nil。
func DecodePayload(t ActionType, raw json.RawMessage) (interface{}, error) {
	var payload interface {
		Validate() error
	}

	switch t {
	case ActionInput:
		payload = &InputPayload{}
	case ActionCoinDeposit:
		payload = &CoinDepositPayload{}
	case ActionTowerDecision:
		payload = &TowerDecisionPayload{}
	case ActionCoinPickup:
		payload = &CoinPickupPayload{}
	case ActionWeaponPick:
		payload = &WeaponPickPayload{}
	case ActionClockSync:
		payload = &ClockSyncPayload{}
	case ActionWaveAdvance:
		payload = &WaveAdvancePayload{}
	case ActionMatchOver:
		payload = &MatchOverPayload{}
	case ActionBuildStateSync:
		payload = &BuildStateSyncPayload{}
	case ActionHeartbeat, ActionDisconnect, ActionPauseRequest, ActionResumeRequest:
		return nil, nil
	default:
		return nil, errors.Newf(errors.ErrUnknownAction, "未知操作: %s", t)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, errors.Wrap(err, errors.ErrInvalidPayload, "负载解析失败")
		}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}
