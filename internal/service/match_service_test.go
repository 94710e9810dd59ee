package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coop-match/internal/config"
	"github.com/wfunc/coop-match/internal/errors"
	"github.com/wfunc/coop-match/internal/game"
	"github.com/wfunc/coop-match/internal/repository"
	"go.uber.org/zap"
)

// recordingBroadcaster 记录所有广播的测试替身
type recordingBroadcaster struct {
	mu   sync.Mutex
	sent []*game.Envelope
}

func (r *recordingBroadcaster) Send(matchID string, envelope *game.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, envelope)
	return nil
}

func (r *recordingBroadcaster) byType(t game.MessageType) []*game.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*game.Envelope
	for _, e := range r.sent {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*MatchService, *recordingBroadcaster) {
	db := repository.TestDB(t)
	hub := &recordingBroadcaster{}
	cfg := &config.MatchConfig{
		MatchTTL:        24 * time.Hour,
		MarkerTTL:       10 * time.Minute,
		CleanupInterval: time.Minute,
		InitialCoins:    200,
		InitialHeroHP:   100,
	}
	svc := NewMatchService(
		repository.NewMatchRepository(db),
		repository.NewReplayRepository(db),
		repository.NewMarkerRepository(db),
		hub,
		cfg,
		zap.NewNop(),
	)
	return svc, hub
}

// newPlayingMatch 创建一个alice主机、bob已加入的对局
func newPlayingMatch(t *testing.T, svc *MatchService) string {
	ctx := context.Background()
	info, err := svc.CreateMatch(ctx, "alice", "")
	require.NoError(t, err)
	_, err = svc.JoinMatch(ctx, info.MatchID, "bob")
	require.NoError(t, err)
	return info.MatchID
}

func TestCreateMatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	info, err := svc.CreateMatch(ctx, "alice", "lobby-7")
	require.NoError(t, err)

	assert.NotEmpty(t, info.MatchID)
	assert.Equal(t, "match:"+info.MatchID, info.Channel)
	assert.Equal(t, "alice", info.SelfPlayerID)
	assert.Equal(t, game.StatusWaiting, info.State.Status)
	assert.Equal(t, int64(0), info.State.Seq)
	assert.Equal(t, int64(200), info.State.SharedCoins)
	assert.Equal(t, "lobby-7", info.State.OriginContextID)
	require.Len(t, info.State.Players, 1)
	assert.Equal(t, game.HostSlot, info.State.Players[0].Slot)
	assert.Equal(t, "alice", info.State.Players[0].PlayerID)
}

func TestJoinMatch(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()

	info, err := svc.CreateMatch(ctx, "alice", "")
	require.NoError(t, err)

	joined, err := svc.JoinMatch(ctx, info.MatchID, "bob")
	require.NoError(t, err)
	assert.Equal(t, game.StatusPlaying, joined.State.Status)
	assert.Equal(t, int64(1), joined.State.Seq)
	require.Len(t, joined.State.Players, 2)
	assert.Equal(t, 1, joined.State.Players[1].Slot)

	// 加入广播一条带序列号的全量快照
	snapshots := hub.byType(game.MsgMatchState)
	require.Len(t, snapshots, 1)
	assert.Equal(t, int64(1), snapshots[0].Seq)
	assert.True(t, snapshots[0].Sequenced())
}

func TestJoinMatch_NotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.JoinMatch(context.Background(), "no-such-match", "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
}

func TestJoinMatch_Conflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	info, err := svc.CreateMatch(ctx, "alice", "")
	require.NoError(t, err)

	// 创建者不能再加入自己的对局
	_, err = svc.JoinMatch(ctx, info.MatchID, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateJoin))

	_, err = svc.JoinMatch(ctx, info.MatchID, "bob")
	require.NoError(t, err)

	// 两人满员后任何加入都冲突
	_, err = svc.JoinMatch(ctx, info.MatchID, "carol")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotWaiting))

	// 已在局中的玩家重复加入同样冲突
	_, err = svc.JoinMatch(ctx, info.MatchID, "bob")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDuplicateJoin))
}

func TestGetState(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	matchID := newPlayingMatch(t, svc)
	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusPlaying, state.Status)

	_, err = svc.GetState(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
}

// 完整复现：创建→加入→投币→原样重试
func TestCoinDeposit_IdempotentRetry(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()

	info, err := svc.CreateMatch(ctx, "alice", "")
	require.NoError(t, err)
	matchID := info.MatchID

	_, err = svc.JoinMatch(ctx, matchID, "bob")
	require.NoError(t, err)

	payload := json.RawMessage(`{"padId":"p1","amount":50,"clientSeq":1}`)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(2), result.Seq)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), state.SharedCoins)
	assert.Equal(t, int64(2), state.Seq)

	// 原样重试：金币不再扣，seq不再涨，应答相同，广播重发
	result, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(2), result.Seq)

	state, err = svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), state.SharedCoins)
	assert.Equal(t, int64(2), state.Seq)

	deposited := hub.byType(game.MsgCoinDeposited)
	assert.Len(t, deposited, 2)

	// 回放日志里只有一条投币事件
	sync, err := svc.Sync(ctx, matchID, "alice", 1)
	require.NoError(t, err)
	require.Len(t, sync.MissedActions, 1)
	assert.Equal(t, game.MsgCoinDeposited, sync.MissedActions[0].Type)
}

func TestCoinDeposit_RetryKeepsOriginalSeq(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	// 投币占用seq 2
	payload := json.RawMessage(`{"padId":"p1","amount":50,"clientSeq":1}`)
	_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)

	// 其他事件占用seq 3
	pickup := json.RawMessage(`{"position":{"x":1,"y":2},"amount":10}`)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinPickup, pickup)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Seq)

	// 迟到的投币重试：重发的必须是原seq 2的事件，不能占用seq 3
	result, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(3), result.Seq)

	deposited := hub.byType(game.MsgCoinDeposited)
	require.Len(t, deposited, 2)
	assert.Equal(t, int64(2), deposited[0].Seq)
	assert.Equal(t, int64(2), deposited[1].Seq)
	assert.True(t, deposited[1].Sequenced())

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), state.SharedCoins)
	assert.Equal(t, int64(3), state.Seq)
}

func TestCoinDeposit_FlooredAtZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	payload := json.RawMessage(`{"padId":"p1","amount":500,"clientSeq":1}`)
	_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.SharedCoins)
}

func TestCoinDeposit_FilledGrantsDecision(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	payload := json.RawMessage(`{"padId":"p1","amount":50,"clientSeq":1,"playerId":"bob","filled":true}`)
	_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, payload)
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	decision := state.BuildingDecisions["p1"]
	require.NotNil(t, decision)
	assert.Equal(t, "bob", decision.DecisionOwnerID)

	owners := hub.byType(game.MsgDecisionOwner)
	require.Len(t, owners, 1)
	assert.True(t, owners[0].Sequenced())
}

func TestHostGating(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	cases := []struct {
		action  game.ActionType
		payload string
	}{
		{game.ActionCoinDeposit, `{"padId":"p1","amount":50,"clientSeq":1}`},
		{game.ActionTowerDecision, `{"padId":"p1","towerTypeId":"arrow"}`},
		{game.ActionCoinPickup, `{"position":{"x":1,"y":2},"amount":10}`},
		{game.ActionWaveAdvance, `{"waveNumber":1}`},
		{game.ActionBuildStateSync, `{"version":1,"sharedCoins":100}`},
	}
	for _, tc := range cases {
		// 负载完全合法，但bob不是主机
		_, err := svc.ApplyAction(ctx, matchID, "bob", tc.action, json.RawMessage(tc.payload))
		require.Error(t, err, string(tc.action))
		assert.True(t, errors.Is(err, errors.ErrHostOnly), string(tc.action))
	}

	// seq 没有被任何被拒的操作消耗
	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Seq)
}

func TestTowerDecision_FirstWriterWins(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	first := json.RawMessage(`{"padId":"p1","towerTypeId":"arrow","playerId":"alice"}`)
	_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionTowerDecision, first)
	require.NoError(t, err)

	// 另一名玩家对同一建造位的决策被拒
	second := json.RawMessage(`{"padId":"p1","towerTypeId":"cannon","playerId":"bob"}`)
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionTowerDecision, second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotDecisionOwner))

	// 归属没有被覆盖
	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, "alice", state.BuildingDecisions["p1"].DecisionOwnerID)

	// 其他建造位不受影响
	other := json.RawMessage(`{"padId":"p2","towerTypeId":"cannon","playerId":"bob"}`)
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionTowerDecision, other)
	assert.NoError(t, err)
}

func TestTowerDecision_SameOwnerRetry(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	payload := json.RawMessage(`{"padId":"p1","towerTypeId":"arrow","playerId":"alice"}`)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionTowerDecision, payload)
	require.NoError(t, err)
	seqAfterFirst := result.Seq

	// 同一玩家重试：不消耗新序列号，事件重发
	result, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionTowerDecision, payload)
	require.NoError(t, err)
	assert.Equal(t, seqAfterFirst, result.Seq)
	assert.Len(t, hub.byType(game.MsgTowerDecided), 2)
}

func TestWaveAdvance_StrictlyIncreasing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionWaveAdvance, json.RawMessage(`{"waveNumber":1}`))
	require.NoError(t, err)

	// 相同或更小的波次号拒绝
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionWaveAdvance, json.RawMessage(`{"waveNumber":1}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))

	// 跳号允许，只要求严格递增
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionWaveAdvance, json.RawMessage(`{"waveNumber":5}`))
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, 5, state.WaveNumber)
	assert.False(t, state.WaveStartAt.IsZero())
}

func TestApplyAction_RequiresPlaying(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// 对局还在waiting：只有创建者一人
	info, err := svc.CreateMatch(ctx, "alice", "")
	require.NoError(t, err)
	matchID := info.MatchID

	// 开局前的投币被拒，金币和seq都不能动
	deposit := json.RawMessage(`{"padId":"p1","amount":50,"clientSeq":1}`)
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, deposit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotPlaying))

	// 开局前不能直接终局，waiting不能跳过playing
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionMatchOver, json.RawMessage(`{"victory":false}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotPlaying))

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusWaiting, state.Status)
	assert.Equal(t, int64(200), state.SharedCoins)
	assert.Equal(t, int64(0), state.Seq)

	// 心跳与对时在waiting阶段照常接受
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionHeartbeat, nil)
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionClockSync, json.RawMessage(`{"clientTime":123}`))
	require.NoError(t, err)

	// 正常开局后同样的投币可以执行
	_, err = svc.JoinMatch(ctx, matchID, "bob")
	require.NoError(t, err)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, deposit)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(2), result.Seq)
}

func TestMatchOver_Terminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionMatchOver, json.RawMessage(`{"victory":true}`))
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, state.Status)

	// 终态之后任何操作都冲突，包括第二次 MATCH_OVER
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionMatchOver, json.RawMessage(`{"victory":false}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchFinished))

	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionHeartbeat, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchFinished))
}

func TestApplyAction_NotParticipant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "carol", game.ActionHeartbeat, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotParticipant))
}

func TestApplyAction_UnknownType(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "alice", "TELEPORT", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownAction))
}

func TestInput_LiveOnly(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	payload := json.RawMessage(`{"position":{"x":10.5,"y":-3}}`)
	result, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionInput, payload)
	require.NoError(t, err)

	// 不消耗序列号
	assert.Equal(t, int64(1), result.Seq)

	// 位置覆盖写生效
	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	bob := state.FindPlayer("bob")
	assert.Equal(t, 10.5, bob.Hero.Position.X)
	assert.Equal(t, -3.0, bob.Hero.Position.Y)

	// 广播了但永不回放
	assert.Len(t, hub.byType(game.MsgPlayerInput), 1)
	sync, err := svc.Sync(ctx, matchID, "bob", 1)
	require.NoError(t, err)
	assert.Empty(t, sync.MissedActions)
}

func TestWeaponPick(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	payload := json.RawMessage(`{"weaponType":"bow"}`)
	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionWeaponPick, payload)
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, matchID, "bob", game.ActionWeaponPick, payload)
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	bob := state.FindPlayer("bob")
	require.Len(t, bob.Weapons, 1)
	assert.Equal(t, 2, bob.Weapons[0].Level)
	assert.Equal(t, "bow", bob.ActiveWeaponType)

	assigned := hub.byType(game.MsgWeaponAssigned)
	require.Len(t, assigned, 2)
	assert.True(t, assigned[0].Sequenced())
}

func TestHeartbeat_NoBroadcast(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	before := len(hub.sent)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionHeartbeat, nil)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(1), result.Seq)
	assert.Equal(t, before, len(hub.sent))
}

func TestClockSync(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionClockSync, json.RawMessage(`{"clientTime":123456}`))
	require.NoError(t, err)

	echoes := hub.byType(game.MsgClockSync)
	require.Len(t, echoes, 1)
	assert.False(t, echoes[0].Sequenced())
	data := echoes[0].Data.(*game.ClockSyncData)
	assert.Equal(t, int64(123456), data.ClientTime)
	assert.NotZero(t, data.ServerTime)
}

func TestDisconnectAndRejoin(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionDisconnect, nil)
	require.NoError(t, err)

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.False(t, state.FindPlayer("bob").Connected)
	assert.Len(t, hub.byType(game.MsgPlayerDisconnected), 1)

	result, err := svc.Rejoin(ctx, matchID, "bob", 0)
	require.NoError(t, err)
	assert.Equal(t, "bob", result.SelfPlayerID)
	assert.True(t, result.State.FindPlayer("bob").Connected)
	assert.Len(t, hub.byType(game.MsgPlayerReconnected), 1)
}

func TestRejoin_Forbidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.Rejoin(ctx, matchID, "carol", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotParticipant))

	_, err = svc.Rejoin(ctx, "missing", "alice", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
}

// N次持久操作后 rejoin(0) 恰好补回N条消息，seq严格升序
func TestRejoin_ReplayCompleteness(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc) // join 产生 seq=1 的快照

	deposits := []string{
		`{"padId":"p1","amount":10,"clientSeq":1}`,
		`{"padId":"p1","amount":10,"clientSeq":2}`,
		`{"padId":"p2","amount":10,"clientSeq":3}`,
	}
	for _, p := range deposits {
		_, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionCoinDeposit, json.RawMessage(p))
		require.NoError(t, err)
	}

	result, err := svc.Rejoin(ctx, matchID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, result.MissedActions, 4)
	for i, envelope := range result.MissedActions {
		assert.Equal(t, int64(i+1), envelope.Seq)
	}

	// 游标之后的消息才补发，永远不含 seq ≤ cursor
	result, err = svc.Rejoin(ctx, matchID, "bob", 2)
	require.NoError(t, err)
	require.Len(t, result.MissedActions, 2)
	assert.Equal(t, int64(3), result.MissedActions[0].Seq)
	assert.Equal(t, int64(4), result.MissedActions[1].Seq)
}

func TestSync_NoSideEffects(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionDisconnect, nil)
	require.NoError(t, err)

	before := len(hub.sent)
	result, err := svc.Sync(ctx, matchID, "bob", 0)
	require.NoError(t, err)
	require.Len(t, result.MissedActions, 1) // join 快照

	// 连接状态不变，也没有新广播
	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.False(t, state.FindPlayer("bob").Connected)
	assert.Equal(t, before, len(hub.sent))

	_, err = svc.Sync(ctx, matchID, "carol", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotParticipant))
}

func TestBuildStateSync_NewestVersionWins(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	v2 := json.RawMessage(`{"version":2,"sharedCoins":120,"pads":[{"padId":"p1","buildingTypeId":"arrow","level":1,"hpRatio":1}]}`)
	result, err := svc.ApplyAction(ctx, matchID, "alice", game.ActionBuildStateSync, v2)
	require.NoError(t, err)
	seqAfterV2 := result.Seq

	state, err := svc.GetState(ctx, matchID)
	require.NoError(t, err)
	require.NotNil(t, state.BuildState)
	assert.Equal(t, int64(2), state.BuildState.Version)
	assert.Equal(t, int64(120), state.SharedCoins)

	// 旧版本静默忽略：应答ok但不改状态不发消息
	v1 := json.RawMessage(`{"version":1,"sharedCoins":999}`)
	result, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionBuildStateSync, v1)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, seqAfterV2, result.Seq)

	state, err = svc.GetState(ctx, matchID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.BuildState.Version)
	assert.Equal(t, int64(120), state.SharedCoins)
	assert.Len(t, hub.byType(game.MsgBuildStateSnapshot), 1)
}

func TestPauseResume(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	_, err := svc.ApplyAction(ctx, matchID, "bob", game.ActionPauseRequest, nil)
	require.NoError(t, err)
	_, err = svc.ApplyAction(ctx, matchID, "alice", game.ActionResumeRequest, nil)
	require.NoError(t, err)

	pauses := hub.byType(game.MsgGamePause)
	resumes := hub.byType(game.MsgGameResume)
	require.Len(t, pauses, 1)
	require.Len(t, resumes, 1)
	assert.True(t, pauses[0].Sequenced())
	assert.Greater(t, resumes[0].Seq, pauses[0].Seq)
}

// seq 在所有持久消息上严格递增
func TestSeqStrictlyIncreasing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	actions := []struct {
		actionType game.ActionType
		payload    string
	}{
		{game.ActionCoinDeposit, `{"padId":"p1","amount":10,"clientSeq":1}`},
		{game.ActionCoinPickup, `{"position":{"x":1,"y":1},"amount":5}`},
		{game.ActionWaveAdvance, `{"waveNumber":1}`},
		{game.ActionBuildStateSync, `{"version":1,"sharedCoins":100}`},
	}
	for _, a := range actions {
		_, err := svc.ApplyAction(ctx, matchID, "alice", a.actionType, json.RawMessage(a.payload))
		require.NoError(t, err)
	}

	sync, err := svc.Sync(ctx, matchID, "alice", 0)
	require.NoError(t, err)
	require.NotEmpty(t, sync.MissedActions)
	last := int64(0)
	for _, envelope := range sync.MissedActions {
		assert.Greater(t, envelope.Seq, last)
		last = envelope.Seq
	}
	assert.Equal(t, sync.State.Seq, last)
}

func TestCleanupExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	matchID := newPlayingMatch(t, svc)

	// 把对局和日志直接改成已过期
	db := svc.matchRepo.GetDB()
	db.Exec("UPDATE matches SET expires_at = ? WHERE match_id = ?", time.Now().Add(-time.Hour), matchID)
	db.Exec("UPDATE replay_events SET expires_at = ? WHERE match_id = ?", time.Now().Add(-time.Hour), matchID)

	svc.cleanupExpired(ctx)

	_, err := svc.GetState(ctx, matchID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMatchNotFound))
}
