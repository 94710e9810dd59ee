package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/coop-match/internal/config"
	"github.com/wfunc/coop-match/internal/errors"
	"github.com/wfunc/coop-match/internal/game"
	"github.com/wfunc/coop-match/internal/models"
	"github.com/wfunc/coop-match/internal/repository"
	"github.com/wfunc/coop-match/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Broadcaster 对局频道广播接口
type Broadcaster interface {
	Send(matchID string, envelope *game.Envelope) error
}

// MatchService 对局服务
//
// 对局生命周期与操作处理的唯一入口。无进程内状态：
// 每个请求独立走 加载-校验-修改-保存 一轮，一致性由
// 单文档写入加主机门禁保证，不加锁。
type MatchService struct {
	matchRepo  repository.MatchRepository
	replayRepo repository.ReplayRepository
	markerRepo repository.MarkerRepository
	hub        Broadcaster
	cfg        *config.MatchConfig
	logger     *zap.Logger
}

// NewMatchService 创建对局服务
func NewMatchService(
	matchRepo repository.MatchRepository,
	replayRepo repository.ReplayRepository,
	markerRepo repository.MarkerRepository,
	hub Broadcaster,
	cfg *config.MatchConfig,
	logger *zap.Logger,
) *MatchService {
	return &MatchService{
		matchRepo:  matchRepo,
		replayRepo: replayRepo,
		markerRepo: markerRepo,
		hub:        hub,
		cfg:        cfg,
		logger:     logger,
	}
}

// MatchInfo 创建/加入对局的应答
type MatchInfo struct {
	MatchID      string           `json:"match_id"`
	Channel      string           `json:"channel"`
	SelfPlayerID string           `json:"self_player_id"`
	State        *game.MatchState `json:"state"`
}

// SyncResult 重连/同步应答
type SyncResult struct {
	State         *game.MatchState `json:"state"`
	MissedActions []*game.Envelope `json:"missed_actions"`
	SelfPlayerID  string           `json:"self_player_id"`
}

// ActionResult 操作应答
type ActionResult struct {
	OK  bool  `json:"ok"`
	Seq int64 `json:"seq"`
}

// CreateMatch 创建对局
//
// 创建者占据0号位并成为主机；对局进入waiting状态，seq从0开始。
func (s *MatchService) CreateMatch(ctx context.Context, callerID, originContextID string) (*MatchInfo, error) {
	matchID := uuid.New().String()
	state := game.NewMatchState(matchID, callerID, originContextID, s.cfg.InitialCoins, s.cfg.InitialHeroHP)

	record := &models.Match{
		MatchID:   matchID,
		Status:    string(state.Status),
		Seq:       state.Seq,
		ExpiresAt: time.Now().Add(s.cfg.MatchTTL),
	}
	if err := s.encodeState(record, state); err != nil {
		return nil, err
	}
	if err := s.matchRepo.Create(ctx, record); err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseInsert, "创建对局失败")
	}

	s.logger.Info("对局已创建",
		zap.String("match_id", matchID),
		zap.String("player_id", callerID))

	return &MatchInfo{
		MatchID:      matchID,
		Channel:      websocket.ChannelName(matchID),
		SelfPlayerID: callerID,
		State:        state,
	}, nil
}

// JoinMatch 加入对局
//
// 只有waiting状态的对局可以加入，且同一身份不能重复加入；
// 成功后对局进入playing并广播一条带序列号的全量快照。
func (s *MatchService) JoinMatch(ctx context.Context, matchID, callerID string) (*MatchInfo, error) {
	record, state, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if state.HasPlayer(callerID) {
		return nil, errors.New(errors.ErrDuplicateJoin)
	}
	if state.Status != game.StatusWaiting {
		return nil, errors.New(errors.ErrMatchNotWaiting)
	}
	if len(state.Players) >= game.MaxPlayers {
		return nil, errors.New(errors.ErrMatchFull)
	}

	state.AddPlayer(callerID, s.cfg.InitialHeroHP)
	state.Status = game.StatusPlaying
	seq := state.NextSeq()
	snapshot := game.NewSequenced(game.MsgMatchState, seq, state)

	if err := s.persist(ctx, record, state); err != nil {
		return nil, err
	}
	s.journal(ctx, matchID, snapshot)
	s.broadcast(matchID, snapshot)

	s.logger.Info("玩家加入对局",
		zap.String("match_id", matchID),
		zap.String("player_id", callerID),
		zap.Int64("seq", seq))

	return &MatchInfo{
		MatchID:      matchID,
		Channel:      websocket.ChannelName(matchID),
		SelfPlayerID: callerID,
		State:        state,
	}, nil
}

// GetState 查询对局快照，只读
func (s *MatchService) GetState(ctx context.Context, matchID string) (*game.MatchState, error) {
	_, state, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Rejoin 断线重连
//
// 标记玩家恢复在线并刷新心跳，广播一条纯实时的重连通知，
// 返回当前快照和 lastSeq 之后的所有持久消息。
func (s *MatchService) Rejoin(ctx context.Context, matchID, callerID string, lastSeq int64) (*SyncResult, error) {
	record, state, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}

	player := state.FindPlayer(callerID)
	if player == nil {
		return nil, errors.New(errors.ErrNotParticipant)
	}

	player.Connected = true
	player.LastHeartbeat = time.Now()
	if err := s.persist(ctx, record, state); err != nil {
		return nil, err
	}
	s.broadcast(matchID, game.NewLive(game.MsgPlayerReconnected, &game.PlayerPresenceData{PlayerID: callerID}))

	missed, err := s.replay(ctx, matchID, lastSeq)
	if err != nil {
		return nil, err
	}

	s.logger.Info("玩家重连",
		zap.String("match_id", matchID),
		zap.String("player_id", callerID),
		zap.Int64("last_seq", lastSeq),
		zap.Int("missed", len(missed)))

	return &SyncResult{State: state, MissedActions: missed, SelfPlayerID: callerID}, nil
}

// Sync 推送通道恢复后的补发查询
//
// 与 Rejoin 应答形状相同但零副作用，供只丢了推送通道的客户端使用。
func (s *MatchService) Sync(ctx context.Context, matchID, callerID string, lastSeq int64) (*SyncResult, error) {
	_, state, err := s.load(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !state.HasPlayer(callerID) {
		return nil, errors.New(errors.ErrNotParticipant)
	}

	missed, err := s.replay(ctx, matchID, lastSeq)
	if err != nil {
		return nil, err
	}
	return &SyncResult{State: state, MissedActions: missed, SelfPlayerID: callerID}, nil
}

// load 加载对局文档并还原快照
func (s *MatchService) load(ctx context.Context, matchID string) (*models.Match, *game.MatchState, error) {
	record, err := s.matchRepo.FindByMatchID(ctx, matchID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, errors.New(errors.ErrMatchNotFound)
		}
		return nil, nil, errors.Wrap(err, errors.ErrDatabaseQuery, "加载对局失败")
	}
	if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(time.Now()) {
		// 已到期但清理任务还没扫到，视同不存在
		return nil, nil, errors.New(errors.ErrMatchNotFound)
	}

	var state game.MatchState
	if err := json.Unmarshal([]byte(record.State), &state); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrDataIntegrity, "对局快照解析失败")
	}
	return record, &state, nil
}

// encodeState 将快照序列化进文档记录
func (s *MatchService) encodeState(record *models.Match, state *game.MatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, errors.ErrDataIntegrity, "对局快照序列化失败")
	}
	record.State = string(data)
	record.Status = string(state.Status)
	record.Seq = state.Seq
	return nil
}

// persist 整篇文档覆盖保存
func (s *MatchService) persist(ctx context.Context, record *models.Match, state *game.MatchState) error {
	if err := s.encodeState(record, state); err != nil {
		return err
	}
	if err := s.matchRepo.Update(ctx, record); err != nil {
		return errors.Wrap(err, errors.ErrDatabaseUpdate, "保存对局失败")
	}
	return nil
}

// journal 将带序列号的消息写入回放日志
//
// 广播在前、持久化失败的情况不回滚：接受至少一次投递，
// 客户端按seq去重。日志写入失败只记日志，不影响应答。
func (s *MatchService) journal(ctx context.Context, matchID string, envelopes ...*game.Envelope) {
	for _, envelope := range envelopes {
		if !envelope.Sequenced() {
			continue
		}
		payload, err := envelope.Encode()
		if err != nil {
			s.logger.Error("回放日志序列化失败",
				zap.String("match_id", matchID),
				zap.Int64("seq", envelope.Seq),
				zap.Error(err))
			continue
		}
		event := &models.ReplayEvent{
			MatchID:   matchID,
			Seq:       envelope.Seq,
			Type:      string(envelope.Type),
			Payload:   string(payload),
			ExpiresAt: time.Now().Add(s.cfg.MatchTTL),
		}
		if err := s.replayRepo.Append(ctx, event); err != nil {
			s.logger.Error("回放日志写入失败",
				zap.String("match_id", matchID),
				zap.Int64("seq", envelope.Seq),
				zap.Error(err))
		}
	}
}

// broadcast 尽力而为的频道扇出
func (s *MatchService) broadcast(matchID string, envelopes ...*game.Envelope) {
	for _, envelope := range envelopes {
		if err := s.hub.Send(matchID, envelope); err != nil {
			s.logger.Warn("广播失败",
				zap.String("match_id", matchID),
				zap.String("type", string(envelope.Type)),
				zap.Error(err))
		}
	}
}

// replay 返回 lastSeq 之后的所有持久消息，按seq升序
func (s *MatchService) replay(ctx context.Context, matchID string, lastSeq int64) ([]*game.Envelope, error) {
	events, err := s.replayRepo.ListAfter(ctx, matchID, lastSeq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "回放日志查询失败")
	}

	missed := make([]*game.Envelope, 0, len(events))
	for _, event := range events {
		envelope, err := game.DecodeEnvelope([]byte(event.Payload))
		if err != nil {
			s.logger.Error("回放日志解析失败",
				zap.String("match_id", matchID),
				zap.Int64("seq", event.Seq),
				zap.Error(err))
			continue
		}
		missed = append(missed, envelope)
	}
	return missed, nil
}

// replayEventAt 取出回放日志中指定序列号的单条消息
//
// seq为0或日志缺失时返回nil，由调用方决定是否降级。
func (s *MatchService) replayEventAt(ctx context.Context, matchID string, seq int64) (*game.Envelope, error) {
	if seq <= 0 {
		return nil, nil
	}
	event, err := s.replayRepo.FindBySeq(ctx, matchID, seq)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrDatabaseQuery, "回放日志查询失败")
	}
	envelope, err := game.DecodeEnvelope([]byte(event.Payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDataIntegrity, "回放日志解析失败")
	}
	return envelope, nil
}

// markerKey 幂等标记的计数器部分
func markerKey(clientSeq int64) string {
	return strconv.FormatInt(clientSeq, 10)
}
