package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/coop-match/internal/utils"
)

func setupIdentityRouter(manager *utils.JWTManager) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	captured := new(string)
	r := gin.New()
	r.Use(Identity(manager))
	r.GET("/whoami", func(c *gin.Context) {
		*captured = PlayerID(c)
		c.Status(http.StatusOK)
	})
	return r, captured
}

func TestIdentity_AuthenticatedSubject(t *testing.T) {
	manager := utils.NewJWTManager("test-secret", time.Hour)
	token, err := manager.GenerateToken("alice")
	require.NoError(t, err)

	r, captured := setupIdentityRouter(manager)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "alice", *captured)
}

func TestIdentity_SubjectWithSessionToken(t *testing.T) {
	manager := utils.NewJWTManager("test-secret", time.Hour)
	token, err := manager.GenerateToken("alice")
	require.NoError(t, err)

	r, captured := setupIdentityRouter(manager)
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(SessionTokenHeader, "s1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	// 同一认证身份可以用不同会话令牌区分并行会话
	assert.Equal(t, "alice:s1", *captured)
}

func TestIdentity_AnonWithSessionToken(t *testing.T) {
	manager := utils.NewJWTManager("test-secret", time.Hour)
	r, captured := setupIdentityRouter(manager)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(SessionTokenHeader, "s1")
	r.ServeHTTP(httptest.NewRecorder(), req)
	first := *captured

	// 相同令牌得到稳定的匿名身份
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, first, *captured)
	assert.Equal(t, "anon:s1", first)
}

func TestIdentity_AnonRandomFallback(t *testing.T) {
	manager := utils.NewJWTManager("test-secret", time.Hour)
	r, captured := setupIdentityRouter(manager)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	first := *captured

	r.ServeHTTP(httptest.NewRecorder(), req)
	second := *captured

	assert.Contains(t, first, "anon-")
	assert.NotEqual(t, first, second)
}

func TestIdentity_InvalidTokenFallsBackToAnon(t *testing.T) {
	manager := utils.NewJWTManager("test-secret", time.Hour)
	r, captured := setupIdentityRouter(manager)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, *captured, "anon-")
}
