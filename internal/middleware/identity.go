package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wfunc/coop-match/internal/utils"
)

const (
	// PlayerIDKey gin上下文中的调用方身份键
	PlayerIDKey = "player_id"

	// SessionTokenHeader 可选的子会话令牌头
	SessionTokenHeader = "X-Session-Token"
)

// Identity 调用方身份解析中间件
//
// 身份 = 已认证的JWT主体，拼上可选的子会话令牌，
// 同一个认证身份可以并行开多个独立会话。未认证时：
// 带子会话令牌则用令牌推导出稳定的匿名身份，
// 否则每个请求分配一个随机匿名ID（无法重连，仅够单次调用）。
func Identity(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token := strings.TrimPrefix(auth, "Bearer ")
			if claims, err := jwtManager.ValidateToken(token); err == nil {
				subject = claims.Subject
			}
		}

		sessionToken := c.GetHeader(SessionTokenHeader)

		var playerID string
		switch {
		case subject != "" && sessionToken != "":
			playerID = subject + ":" + sessionToken
		case subject != "":
			playerID = subject
		case sessionToken != "":
			playerID = "anon:" + sessionToken
		default:
			playerID = "anon-" + uuid.New().String()
		}

		c.Set(PlayerIDKey, playerID)
		c.Next()
	}
}

// PlayerID 从gin上下文取调用方身份
func PlayerID(c *gin.Context) string {
	if v, ok := c.Get(PlayerIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
