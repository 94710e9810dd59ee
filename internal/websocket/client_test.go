package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wfunc/coop-match/internal/config"
	"go.uber.org/zap"
)

func TestNewClient_Defaults(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := NewClient(hub, nil, "alice", "m1", nil)

	assert.Equal(t, "match:m1", c.Channel)
	assert.Equal(t, defaultWriteWait, c.writeWait)
	assert.Equal(t, defaultPongWait, c.pongWait)
	assert.Equal(t, int64(defaultMaxMessageSize), c.maxMessageSize)
	assert.Less(t, c.pingPeriod, c.pongWait)
}

func TestNewClient_ConfiguredTimings(t *testing.T) {
	hub := NewHub(zap.NewNop())
	cfg := &config.WebSocketConfig{
		MaxMessageSize: 8192,
		PingInterval:   20 * time.Second,
		PongTimeout:    45 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
	c := NewClient(hub, nil, "alice", "m1", cfg)

	assert.Equal(t, 5*time.Second, c.writeWait)
	assert.Equal(t, 45*time.Second, c.pongWait)
	assert.Equal(t, 20*time.Second, c.pingPeriod)
	assert.Equal(t, int64(8192), c.maxMessageSize)
}

func TestNewClient_PingIntervalMustBeatPongTimeout(t *testing.T) {
	hub := NewHub(zap.NewNop())
	cfg := &config.WebSocketConfig{
		PingInterval: 2 * time.Minute,
		PongTimeout:  30 * time.Second,
	}
	c := NewClient(hub, nil, "alice", "m1", cfg)

	// ping周期不合法时退回pong超时的9/10
	assert.Equal(t, 27*time.Second, c.pingPeriod)
}
