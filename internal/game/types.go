package game

import (
	"time"
)

// MatchStatus 对局状态
type MatchStatus string

const (
	StatusWaiting  MatchStatus = "waiting"  // 等待第二名玩家加入
	StatusPlaying  MatchStatus = "playing"  // 对局进行中
	StatusFinished MatchStatus = "finished" // 对局结束（终态）
)

// HostSlot 主机位编号，固定为0号位，加入后不再重选
const HostSlot = 0

// MaxPlayers 对局固定两名玩家
const MaxPlayers = 2

// Position 平面坐标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HeroState 英雄状态
type HeroState struct {
	Position Position `json:"position"`
	HP       int      `json:"hp"`
	MaxHP    int      `json:"maxHp"`
	Level    int      `json:"level"`
}

// Weapon 武器，按类型唯一
type Weapon struct {
	Type  string `json:"type"`
	Level int    `json:"level"`
}

// PlayerSlot 玩家席位
//
// 席位只增不减：断线只翻转 Connected 标志，玩家永远留在名单中。
type PlayerSlot struct {
	Slot             int        `json:"slot"` // 0 或 1，0号位是主机
	PlayerID         string     `json:"playerId"`
	Connected        bool       `json:"connected"`
	LastHeartbeat    time.Time  `json:"lastHeartbeat"`
	Hero             HeroState  `json:"hero"`
	Weapons          []Weapon   `json:"weapons"`
	ActiveWeaponType string     `json:"activeWeaponType"`
}

// BuildingDecision 建造决策归属
//
// 每个建造位最多一条，先写者胜，永不覆盖。
type BuildingDecision struct {
	PadID           string    `json:"padId"`
	DecisionOwnerID string    `json:"decisionOwnerId"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	Seq             int64     `json:"seq"`
}

// PadSummary 建造位摘要
type PadSummary struct {
	PadID           string  `json:"padId"`
	BuildingTypeID  string  `json:"buildingTypeId"`
	Level           int     `json:"level"`
	HPRatio         float64 `json:"hpRatio"`
	NextUpgradeCost int64   `json:"nextUpgradeCost"`
	CollectedCoins  int64   `json:"collectedCoins"`
	State           string  `json:"state"`
}

// BuildStateSnapshot 主机推送的建造全量快照
//
// 整体替换，版本号新者胜，不做合并。
type BuildStateSnapshot struct {
	Version     int64        `json:"version"`
	SharedCoins int64        `json:"sharedCoins"`
	Pads        []PadSummary `json:"pads"`
}

// MatchState 对局状态根文档
//
// 整篇文档是唯一的变更单位：每次请求 加载-修改-保存 完整快照。
type MatchState struct {
	MatchID           string                       `json:"matchId"`
	OriginContextID   string                       `json:"originContextId,omitempty"`
	Status            MatchStatus                  `json:"status"`
	CreatedAt         time.Time                    `json:"createdAt"`
	Players           []PlayerSlot                 `json:"players"`
	TeamXP            int64                        `json:"teamXp"`
	TeamLevel         int                          `json:"teamLevel"`
	SharedCoins       int64                        `json:"sharedCoins"` // 永不为负
	WaveNumber        int                          `json:"waveNumber"`
	WaveStartAt       time.Time                    `json:"waveStartAt"`
	BuildingDecisions map[string]*BuildingDecision `json:"buildingDecisions"`
	Seq               int64                        `json:"seq"` // 最近分配的序列号，单调不减
	BuildState        *BuildStateSnapshot          `json:"buildState,omitempty"`
}

// NewMatchState 创建新对局，创建者占据0号位
func NewMatchState(matchID, creatorID, originContextID string, initialCoins int64, initialHeroHP int) *MatchState {
	now := time.Now()
	return &MatchState{
		MatchID:         matchID,
		OriginContextID: originContextID,
		Status:          StatusWaiting,
		CreatedAt:       now,
		Players: []PlayerSlot{
			newPlayerSlot(HostSlot, creatorID, initialHeroHP, now),
		},
		SharedCoins:       initialCoins,
		TeamLevel:         1,
		WaveNumber:        0,
		BuildingDecisions: make(map[string]*BuildingDecision),
		Seq:               0,
	}
}

func newPlayerSlot(slot int, playerID string, heroHP int, now time.Time) PlayerSlot {
	return PlayerSlot{
		Slot:          slot,
		PlayerID:      playerID,
		Connected:     true,
		LastHeartbeat: now,
		Hero: HeroState{
			HP:    heroHP,
			MaxHP: heroHP,
			Level: 1,
		},
		Weapons: []Weapon{},
	}
}

// AddPlayer 在1号位追加第二名玩家
func (m *MatchState) AddPlayer(playerID string, heroHP int) {
	m.Players = append(m.Players, newPlayerSlot(1, playerID, heroHP, time.Now()))
}

// FindPlayer 按玩家ID查找席位
func (m *MatchState) FindPlayer(playerID string) *PlayerSlot {
	for i := range m.Players {
		if m.Players[i].PlayerID == playerID {
			return &m.Players[i]
		}
	}
	return nil
}

// IsHost 判断玩家是否为主机（0号位）
func (m *MatchState) IsHost(playerID string) bool {
	p := m.FindPlayer(playerID)
	return p != nil && p.Slot == HostSlot
}

// HasPlayer 判断玩家是否已在对局中
func (m *MatchState) HasPlayer(playerID string) bool {
	return m.FindPlayer(playerID) != nil
}

// NextSeq 分配下一个序列号
//
// 单请求事务内调用；同一对局不存在并发写者，主机门禁保证这一点。
func (m *MatchState) NextSeq() int64 {
	m.Seq++
	return m.Seq
}

// PickWeapon 拾取武器：已持有同类型则升一级，否则以1级插入；同时切换现役武器
func (p *PlayerSlot) PickWeapon(weaponType string) Weapon {
	for i := range p.Weapons {
		if p.Weapons[i].Type == weaponType {
			p.Weapons[i].Level++
			p.ActiveWeaponType = weaponType
			return p.Weapons[i]
		}
	}
	w := Weapon{Type: weaponType, Level: 1}
	p.Weapons = append(p.Weapons, w)
	p.ActiveWeaponType = weaponType
	return w
}
