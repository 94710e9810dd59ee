package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/coop-match/internal/config"
	"go.uber.org/zap"
)

// 配置缺省时的兜底值
const (
	// 写超时
	defaultWriteWait = 10 * time.Second

	// 读取pong超时
	defaultPongWait = 60 * time.Second

	// 最大消息大小
	defaultMaxMessageSize = 64 * 1024 // 64KB
)

// Client WebSocket客户端
//
// 订阅是只读的：下行推送走Send通道，上行消息一律忽略，
// 操作必须通过HTTP接口提交。
type Client struct {
	ID       string          // 客户端ID
	PlayerID string          // 玩家ID
	Channel  string          // 订阅的频道
	Hub      *Hub            // Hub引用
	Conn     *websocket.Conn // WebSocket连接
	Send     chan []byte     // 发送通道

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

// NewClient 创建新客户端
//
// 读写超时和消息上限取自配置，cfg为nil时使用兜底值。
func NewClient(hub *Hub, conn *websocket.Conn, playerID, matchID string, cfg *config.WebSocketConfig) *Client {
	c := &Client{
		ID:             uuid.New().String(),
		PlayerID:       playerID,
		Channel:        ChannelName(matchID),
		Hub:            hub,
		Conn:           conn,
		Send:           make(chan []byte, 256),
		writeWait:      defaultWriteWait,
		pongWait:       defaultPongWait,
		maxMessageSize: defaultMaxMessageSize,
	}
	if cfg != nil {
		if cfg.WriteTimeout > 0 {
			c.writeWait = cfg.WriteTimeout
		}
		if cfg.PongTimeout > 0 {
			c.pongWait = cfg.PongTimeout
		}
		if cfg.MaxMessageSize > 0 {
			c.maxMessageSize = cfg.MaxMessageSize
		}
	}
	// ping周期必须小于pong超时
	c.pingPeriod = (c.pongWait * 9) / 10
	if cfg != nil && cfg.PingInterval > 0 && cfg.PingInterval < c.pongWait {
		c.pingPeriod = cfg.PingInterval
	}
	return c
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Error("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			break
		}
		// 上行消息忽略，仅用于保持连接
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Hub关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 批量发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close 关闭客户端连接
func (c *Client) Close() {
	c.Conn.Close()
}
