package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/wfunc/coop-match/internal/config"
	ws "github.com/wfunc/coop-match/internal/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler WebSocket处理器
type WebSocketHandler struct {
	hub      *ws.Hub
	cfg      *config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, cfg *config.WebSocketConfig, logger *zap.Logger) *WebSocketHandler {
	readBuffer, writeBuffer := 1024, 1024
	enableCompression := false
	if cfg != nil {
		if cfg.ReadBufferSize > 0 {
			readBuffer = cfg.ReadBufferSize
		}
		if cfg.WriteBufferSize > 0 {
			writeBuffer = cfg.WriteBufferSize
		}
		enableCompression = cfg.EnableCompression
	}
	return &WebSocketHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    readBuffer,
			WriteBufferSize:   writeBuffer,
			EnableCompression: enableCompression,
			CheckOrigin: func(r *http.Request) bool {
				// 在生产环境中应该检查Origin
				return true
			},
		},
		logger: logger,
	}
}

// MatchChannel 订阅对局频道
//
// 频道名只由match_id推导，知道matchId即可订阅；
// 没有每频道密钥，强隔离需要改为按对局密钥派生频道名。
func (h *WebSocketHandler) MatchChannel(c *gin.Context) {
	matchID := c.Query("match_id")
	if matchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match_id 不能为空"})
		return
	}
	playerID := c.Query("player_id")

	// 升级为WebSocket连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("match_id", matchID),
			zap.Error(err))
		return
	}

	// 创建并注册客户端
	client := ws.NewClient(h.hub, conn, playerID, matchID, h.cfg)
	h.hub.Register(client)

	// 启动读写协程
	go client.WritePump()
	go client.ReadPump()

	h.logger.Info("WebSocket连接建立",
		zap.String("client_id", client.ID),
		zap.String("match_id", matchID),
		zap.String("player_id", playerID))
}
