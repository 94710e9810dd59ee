package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/coop-match/internal/errors"
	"github.com/wfunc/coop-match/internal/game"
	"github.com/wfunc/coop-match/internal/middleware"
	"github.com/wfunc/coop-match/internal/service"
	"go.uber.org/zap"
)

// MatchHandler 对局处理器
type MatchHandler struct {
	svc    *service.MatchService
	logger *zap.Logger
}

// NewMatchHandler 创建对局处理器
func NewMatchHandler(svc *service.MatchService, logger *zap.Logger) *MatchHandler {
	return &MatchHandler{
		svc:    svc,
		logger: logger,
	}
}

// CreateMatchRequest 创建对局请求
type CreateMatchRequest struct {
	OriginContextID string `json:"origin_context_id"`
}

// SyncRequest 重连/补发请求
type SyncRequest struct {
	LastSeq int64 `json:"last_seq" binding:"min=0"`
}

// ActionRequest 操作请求
type ActionRequest struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// respondError 按错误码映射HTTP状态
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var appErr *errors.AppError
	if e, ok := err.(*errors.AppError); ok {
		appErr = e
	} else {
		appErr = errors.Wrap(err, errors.ErrUnknown)
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		logger.Error("请求处理失败",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, errors.NewErrorResponse(appErr, c.GetString("request_id")))
}

// CreateMatch 创建对局
// @Summary 创建对局
// @Description 创建一个新对局，调用方占据0号位成为主机
// @Tags match
// @Accept json
// @Produce json
// @Param request body CreateMatchRequest false "创建参数"
// @Success 200 {object} service.MatchInfo
// @Router /api/v1/match [post]
func (h *MatchHandler) CreateMatch(c *gin.Context) {
	var req CreateMatchRequest
	// 请求体允许为空
	_ = c.ShouldBindJSON(&req)

	info, err := h.svc.CreateMatch(c.Request.Context(), middleware.PlayerID(c), req.OriginContextID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// JoinMatch 加入对局
// @Summary 加入对局
// @Description 加入waiting状态的对局，占据1号位
// @Tags match
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} service.MatchInfo
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /api/v1/match/{id}/join [post]
func (h *MatchHandler) JoinMatch(c *gin.Context) {
	info, err := h.svc.JoinMatch(c.Request.Context(), c.Param("id"), middleware.PlayerID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetState 查询对局状态
// @Summary 查询对局状态
// @Tags match
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/match/{id} [get]
func (h *MatchHandler) GetState(c *gin.Context) {
	state, err := h.svc.GetState(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// Rejoin 断线重连
// @Summary 断线重连
// @Description 恢复在线标记并补发 last_seq 之后的持久消息
// @Tags match
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body SyncRequest true "重连参数"
// @Success 200 {object} service.SyncResult
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/match/{id}/rejoin [post]
func (h *MatchHandler) Rejoin(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	result, err := h.svc.Rejoin(c.Request.Context(), c.Param("id"), middleware.PlayerID(c), req.LastSeq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Sync 补发查询
// @Summary 补发查询
// @Description 与重连相同的应答，但不改变任何状态
// @Tags match
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body SyncRequest true "同步参数"
// @Success 200 {object} service.SyncResult
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/match/{id}/sync [post]
func (h *MatchHandler) Sync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	result, err := h.svc.Sync(c.Request.Context(), c.Param("id"), middleware.PlayerID(c), req.LastSeq)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Action 提交操作
// @Summary 提交操作
// @Description 操作处理单一入口，应答携带对局当前序列号
// @Tags match
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body ActionRequest true "操作"
// @Success 200 {object} service.ActionResult
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /api/v1/match/{id}/action [post]
func (h *MatchHandler) Action(c *gin.Context) {
	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, errors.Wrap(err, errors.ErrInvalidParam))
		return
	}

	result, err := h.svc.ApplyAction(c.Request.Context(), c.Param("id"), middleware.PlayerID(c), game.ActionType(req.Type), req.Payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
