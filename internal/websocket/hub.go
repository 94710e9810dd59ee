package websocket

import (
	"sync"

	"github.com/wfunc/coop-match/internal/game"
	"go.uber.org/zap"
)

// ChannelName 由对局ID确定频道名
//
// 频道名只由matchId推导，知道matchId即可订阅，没有每频道密钥。
func ChannelName(matchID string) string {
	return "match:" + matchID
}

// Hub WebSocket连接管理中心
//
// 按频道做尽力而为的扇出：不保证送达，不做背压，
// 客户端缓冲区满就丢弃；必达消息由回放日志兜底。
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 频道到客户端的映射
	channels  map[string]map[string]*Client
	channelMu sync.RWMutex

	// 广播通道
	broadcast chan *channelMessage

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	// 日志
	logger *zap.Logger
}

// channelMessage 定向到一个频道的广播载荷
type channelMessage struct {
	channel string
	data    []byte
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		channels:   make(map[string]map[string]*Client),
		broadcast:  make(chan *channelMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.fanout(message.channel, message.data)
		}
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Send 向对局频道广播一条消息
func (h *Hub) Send(matchID string, envelope *game.Envelope) error {
	data, err := envelope.Encode()
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &channelMessage{channel: ChannelName(matchID), data: data}:
	default:
		// 广播队列满时直接同步扇出，不阻塞调用方
		h.fanout(ChannelName(matchID), data)
	}
	return nil
}

// SubscriberCount 频道当前订阅者数量
func (h *Hub) SubscriberCount(matchID string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[ChannelName(matchID)])
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.channelMu.Lock()
	if h.channels[client.Channel] == nil {
		h.channels[client.Channel] = make(map[string]*Client)
	}
	h.channels[client.Channel][client.ID] = client
	h.channelMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("channel", client.Channel),
		zap.String("player_id", client.PlayerID))
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.channelMu.Lock()
	if subs, ok := h.channels[client.Channel]; ok {
		delete(subs, client.ID)
		if len(subs) == 0 {
			delete(h.channels, client.Channel)
		}
	}
	h.channelMu.Unlock()

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("channel", client.Channel))
}

// fanout 向频道内所有客户端扇出
func (h *Hub) fanout(channel string, data []byte) {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()

	for _, client := range h.channels[channel] {
		select {
		case client.Send <- data:
		default:
			// 发送缓冲区满，丢弃本条
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID),
				zap.String("channel", channel))
		}
	}
}
