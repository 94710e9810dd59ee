package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/coop-match/internal/errors"
	"github.com/wfunc/coop-match/internal/game"
	"github.com/wfunc/coop-match/internal/models"
	"go.uber.org/zap"
)

// actionOutcome 一次操作分发的产出
type actionOutcome struct {
	toJournal   []*game.Envelope // 带序列号，需要写回放日志
	toBroadcast []*game.Envelope // 全部待广播的消息，含纯实时和重发
	dirty       bool             // 快照是否被修改，含seq推进
}

func (o *actionOutcome) emit(envelope *game.Envelope) {
	if envelope.Sequenced() {
		o.toJournal = append(o.toJournal, envelope)
		o.dirty = true
	}
	o.toBroadcast = append(o.toBroadcast, envelope)
}

// resend 只广播不写日志，用于重试请求补发已记录的事件
func (o *actionOutcome) resend(envelope *game.Envelope) {
	o.toBroadcast = append(o.toBroadcast, envelope)
}

// ApplyAction 操作处理单一入口
//
// 校验顺序固定：加载(NotFound) → 状态检查(Conflict) →
// 参与者检查(Forbidden) → 负载校验(InvalidArgument) →
// 主机门禁(Forbidden) → 变更+发消息 → 保存 → 写日志 → 广播 →
// 以当前seq应答。任何校验失败都发生在变更之前。
func (s *MatchService) ApplyAction(ctx context.Context, matchID, callerID string, actionType game.ActionType, raw json.RawMessage) (*ActionResult, error) {
	record, state, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if state.Status == game.StatusFinished {
		return nil, errors.New(errors.ErrMatchFinished)
	}
	// 除心跳/对时/离线标记外，所有操作都要求对局已开始
	if state.Status != game.StatusPlaying && game.RequiresPlaying(actionType) {
		return nil, errors.New(errors.ErrMatchNotPlaying)
	}

	player := state.FindPlayer(callerID)
	if player == nil {
		return nil, errors.New(errors.ErrNotParticipant)
	}

	payload, err := game.DecodePayload(actionType, raw)
	if err != nil {
		return nil, err
	}

	if game.IsHostOnly(actionType) && !state.IsHost(callerID) {
		return nil, errors.New(errors.ErrHostOnly, "host_only")
	}

	outcome := &actionOutcome{}
	switch actionType {
	case game.ActionInput:
		s.applyInput(state, player, payload.(*game.InputPayload), outcome)
	case game.ActionCoinDeposit:
		err = s.applyCoinDeposit(ctx, state, callerID, payload.(*game.CoinDepositPayload), outcome)
	case game.ActionTowerDecision:
		err = s.applyTowerDecision(ctx, state, callerID, payload.(*game.TowerDecisionPayload), outcome)
	case game.ActionCoinPickup:
		s.applyCoinPickup(state, callerID, payload.(*game.CoinPickupPayload), outcome)
	case game.ActionWeaponPick:
		s.applyWeaponPick(state, player, payload.(*game.WeaponPickPayload), outcome)
	case game.ActionHeartbeat:
		s.applyHeartbeat(ctx, record, player, outcome)
	case game.ActionClockSync:
		s.applyClockSync(payload.(*game.ClockSyncPayload), outcome)
	case game.ActionWaveAdvance:
		err = s.applyWaveAdvance(state, payload.(*game.WaveAdvancePayload), outcome)
	case game.ActionDisconnect:
		s.applyDisconnect(player, outcome)
	case game.ActionPauseRequest:
		s.applyPause(state, callerID, game.MsgGamePause, outcome)
	case game.ActionResumeRequest:
		s.applyPause(state, callerID, game.MsgGameResume, outcome)
	case game.ActionMatchOver:
		s.applyMatchOver(state, payload.(*game.MatchOverPayload), outcome)
	case game.ActionBuildStateSync:
		s.applyBuildStateSync(state, payload.(*game.BuildStateSyncPayload), outcome)
	default:
		err = errors.Newf(errors.ErrUnknownAction, "未知操作: %s", actionType)
	}
	if err != nil {
		return nil, err
	}

	if outcome.dirty {
		if err := s.persist(ctx, record, state); err != nil {
			return nil, err
		}
	}
	s.journal(ctx, matchID, outcome.toJournal...)
	s.broadcast(matchID, outcome.toBroadcast...)

	s.logger.Debug("操作已处理",
		zap.String("match_id", matchID),
		zap.String("player_id", callerID),
		zap.String("action", string(actionType)),
		zap.Int64("seq", state.Seq))

	return &ActionResult{OK: true, Seq: state.Seq}, nil
}

// applyInput 覆盖写英雄位置，纯实时广播
//
// 位置写入与顺序无关，观察到的最后一次写入生效。
func (s *MatchService) applyInput(state *game.MatchState, player *game.PlayerSlot, payload *game.InputPayload, outcome *actionOutcome) {
	player.Hero.Position = payload.Position
	outcome.dirty = true
	outcome.emit(game.NewLive(game.MsgPlayerInput, &game.PlayerInputData{
		PlayerID: player.PlayerID,
		Position: payload.Position,
	}))
}

// applyCoinDeposit 投币到建造位
//
// 幂等键是 (matchId, padId, clientSeq)：重试请求跳过扣减和seq分配，
// 但仍重发一条投币广播，让两端UI保持一致。投满的建造位按先写者胜
// 把决策权授予投币玩家。
func (s *MatchService) applyCoinDeposit(ctx context.Context, state *game.MatchState, callerID string, payload *game.CoinDepositPayload, outcome *actionOutcome) error {
	playerID := payload.PlayerID
	if playerID == "" {
		playerID = callerID
	}

	// clientSeq 为0视为未提供计数器，退化为一次性键，本次调用不做去重
	key := markerKey(payload.ClientSeq)
	if payload.ClientSeq == 0 {
		key = FallbackMarkerKey()
	}
	firstTime, recordedSeq, err := s.markerRepo.CheckAndMark(ctx, state.MatchID, payload.PadID, key, time.Now().Add(s.cfg.MarkerTTL))
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "幂等标记写入失败")
	}

	if !firstTime {
		// 变更已生效过：重发首次生效时写入日志的那条事件，
		// 原样保留它的序列号，不能占用其他事件已分走的seq
		original, err := s.replayEventAt(ctx, state.MatchID, recordedSeq)
		if err != nil {
			return err
		}
		if original != nil {
			outcome.resend(original)
		} else {
			s.logger.Warn("幂等重试找不到原始事件，跳过重发",
				zap.String("match_id", state.MatchID),
				zap.String("pad_id", payload.PadID),
				zap.Int64("recorded_seq", recordedSeq))
		}
		return nil
	}

	state.SharedCoins -= payload.Amount
	if state.SharedCoins < 0 {
		state.SharedCoins = 0
	}
	depositSeq := state.NextSeq()
	outcome.emit(game.NewSequenced(game.MsgCoinDeposited, depositSeq, &game.CoinDepositedData{
		PadID:       payload.PadID,
		PlayerID:    playerID,
		Amount:      payload.Amount,
		SharedCoins: state.SharedCoins,
	}))
	if payload.ClientSeq != 0 {
		if err := s.markerRepo.BindSeq(ctx, state.MatchID, payload.PadID, key, depositSeq); err != nil {
			s.logger.Error("幂等标记绑定序列号失败",
				zap.String("match_id", state.MatchID),
				zap.String("pad_id", payload.PadID),
				zap.Error(err))
		}
	}

	// 投满后授予决策权，先写者胜
	if payload.Filled && state.BuildingDecisions[payload.PadID] == nil {
		owner, claimed, err := s.markerRepo.ClaimPad(ctx, state.MatchID, payload.PadID, playerID, time.Now().Add(s.cfg.MarkerTTL))
		if err != nil {
			return errors.Wrap(err, errors.ErrDatabaseInsert, "决策归属写入失败")
		}
		if claimed {
			seq := state.NextSeq()
			state.BuildingDecisions[payload.PadID] = &game.BuildingDecision{
				PadID:           payload.PadID,
				DecisionOwnerID: owner,
				ResolvedAt:      time.Now(),
				Seq:             seq,
			}
			outcome.emit(game.NewSequenced(game.MsgDecisionOwner, seq, &game.DecisionOwnerData{
				PadID:           payload.PadID,
				DecisionOwnerID: owner,
			}))
		}
	}
	return nil
}

// applyTowerDecision 塔型决策，先写者胜
//
// 归属已被其他玩家占有时拒绝；同一玩家重试时重发已记录的事件。
func (s *MatchService) applyTowerDecision(ctx context.Context, state *game.MatchState, callerID string, payload *game.TowerDecisionPayload, outcome *actionOutcome) error {
	playerID := payload.PlayerID
	if playerID == "" {
		playerID = callerID
	}

	if existing := state.BuildingDecisions[payload.PadID]; existing != nil {
		if existing.DecisionOwnerID != playerID {
			return errors.New(errors.ErrNotDecisionOwner, "not_decision_owner")
		}
		// 重试：归属没变，重发事件但不消耗新的序列号
		outcome.resend(game.NewSequenced(game.MsgTowerDecided, existing.Seq, &game.TowerDecidedData{
			PadID:       payload.PadID,
			PlayerID:    playerID,
			TowerTypeID: payload.TowerTypeID,
		}))
		return nil
	}

	owner, claimed, err := s.markerRepo.ClaimPad(ctx, state.MatchID, payload.PadID, playerID, time.Now().Add(s.cfg.MarkerTTL))
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseInsert, "决策归属写入失败")
	}
	if !claimed && owner != playerID {
		return errors.New(errors.ErrNotDecisionOwner, "not_decision_owner")
	}

	seq := state.NextSeq()
	state.BuildingDecisions[payload.PadID] = &game.BuildingDecision{
		PadID:           payload.PadID,
		DecisionOwnerID: playerID,
		ResolvedAt:      time.Now(),
		Seq:             seq,
	}
	outcome.emit(game.NewSequenced(game.MsgTowerDecided, seq, &game.TowerDecidedData{
		PadID:       payload.PadID,
		PlayerID:    playerID,
		TowerTypeID: payload.TowerTypeID,
	}))
	return nil
}

// applyCoinPickup 金币拾取，仅转发事件
func (s *MatchService) applyCoinPickup(state *game.MatchState, callerID string, payload *game.CoinPickupPayload, outcome *actionOutcome) {
	playerID := payload.PlayerID
	if playerID == "" {
		playerID = callerID
	}
	outcome.emit(game.NewSequenced(game.MsgCoinPicked, state.NextSeq(), &game.CoinPickedData{
		PlayerID: playerID,
		Position: payload.Position,
		Amount:   payload.Amount,
	}))
}

// applyWeaponPick 武器拾取
func (s *MatchService) applyWeaponPick(state *game.MatchState, player *game.PlayerSlot, payload *game.WeaponPickPayload, outcome *actionOutcome) {
	weapon := player.PickWeapon(payload.WeaponType)
	outcome.emit(game.NewSequenced(game.MsgWeaponAssigned, state.NextSeq(), &game.WeaponAssignedData{
		PlayerID: player.PlayerID,
		Weapon:   weapon,
	}))
}

// applyHeartbeat 刷新心跳，同时顺延对局文档的过期时间，无广播
func (s *MatchService) applyHeartbeat(ctx context.Context, record *models.Match, player *game.PlayerSlot, outcome *actionOutcome) {
	player.LastHeartbeat = time.Now()
	record.ExpiresAt = time.Now().Add(s.cfg.MatchTTL)
	outcome.dirty = true
}

// applyClockSync 回传服务器时间，纯实时
func (s *MatchService) applyClockSync(payload *game.ClockSyncPayload, outcome *actionOutcome) {
	outcome.emit(game.NewLive(game.MsgClockSync, &game.ClockSyncData{
		ClientTime: payload.ClientTime,
		ServerTime: time.Now().UnixMilli(),
	}))
}

// applyWaveAdvance 推进波次，波次号必须严格递增
func (s *MatchService) applyWaveAdvance(state *game.MatchState, payload *game.WaveAdvancePayload, outcome *actionOutcome) error {
	if payload.WaveNumber <= state.WaveNumber {
		return errors.Newf(errors.ErrInvalidPayload, "waveNumber 必须大于当前波次 %d", state.WaveNumber)
	}
	now := time.Now()
	state.WaveNumber = payload.WaveNumber
	state.WaveStartAt = now
	outcome.emit(game.NewSequenced(game.MsgWaveStarted, state.NextSeq(), &game.WaveStartedData{
		WaveNumber:  payload.WaveNumber,
		WaveStartAt: now.UnixMilli(),
	}))
	return nil
}

// applyDisconnect 标记离线，纯实时广播
func (s *MatchService) applyDisconnect(player *game.PlayerSlot, outcome *actionOutcome) {
	player.Connected = false
	outcome.dirty = true
	outcome.emit(game.NewLive(game.MsgPlayerDisconnected, &game.PlayerPresenceData{
		PlayerID: player.PlayerID,
	}))
}

// applyPause 暂停/恢复请求
func (s *MatchService) applyPause(state *game.MatchState, callerID string, msgType game.MessageType, outcome *actionOutcome) {
	outcome.emit(game.NewSequenced(msgType, state.NextSeq(), &game.PauseData{
		PlayerID: callerID,
	}))
}

// applyMatchOver 结束对局，终态不可逆
func (s *MatchService) applyMatchOver(state *game.MatchState, payload *game.MatchOverPayload, outcome *actionOutcome) {
	state.Status = game.StatusFinished
	outcome.emit(game.NewSequenced(game.MsgMatchOver, state.NextSeq(), &game.MatchOverData{
		Victory: payload.Victory,
	}))
}

// applyBuildStateSync 建造全量快照，版本号新者胜
//
// 旧版本直接忽略：不改状态不发消息，但照常应答ok，
// 让乱序到达的重试不至于被当成错误。
func (s *MatchService) applyBuildStateSync(state *game.MatchState, payload *game.BuildStateSyncPayload, outcome *actionOutcome) {
	if state.BuildState != nil && payload.Version <= state.BuildState.Version {
		return
	}
	state.BuildState = &game.BuildStateSnapshot{
		Version:     payload.Version,
		SharedCoins: payload.SharedCoins,
		Pads:        payload.Pads,
	}
	state.SharedCoins = payload.SharedCoins
	outcome.emit(game.NewSequenced(game.MsgBuildStateSnapshot, state.NextSeq(), state.BuildState))
}

// FallbackMarkerKey 为不带计数器的操作生成一次性幂等键
//
// 一次性键意味着该调用不做去重，这是明示的限制而不是隐藏行为。
func FallbackMarkerKey() string {
	return uuid.New().String()
}
