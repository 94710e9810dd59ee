package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/coop-match/internal/config"
	"github.com/wfunc/coop-match/internal/database"
	"github.com/wfunc/coop-match/internal/middleware"
	"github.com/wfunc/coop-match/internal/repository"
	"github.com/wfunc/coop-match/internal/service"
	"github.com/wfunc/coop-match/internal/utils"
	ws "github.com/wfunc/coop-match/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Router API路由器
type Router struct {
	engine       *gin.Engine
	db           *gorm.DB
	matchService *service.MatchService
	matchHandler *MatchHandler
	wsHandler    *WebSocketHandler
	wsPath       string
	jwtManager   *utils.JWTManager
	log          *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(db *gorm.DB, cfg *config.Config, hub *ws.Hub, log *zap.Logger) *Router {
	// 创建Gin引擎
	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())

	// 创建服务
	matchService := service.NewMatchService(
		repository.NewMatchRepository(db),
		repository.NewReplayRepository(db),
		repository.NewMarkerRepository(db),
		hub,
		&cfg.Match,
		log,
	)

	jwtManager := utils.NewJWTManager(
		cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour,
	)

	wsPath := cfg.WebSocket.Path
	if wsPath == "" {
		wsPath = "/ws/match"
	}

	router := &Router{
		engine:       engine,
		db:           db,
		matchService: matchService,
		matchHandler: NewMatchHandler(matchService, log),
		wsHandler:    NewWebSocketHandler(hub, &cfg.WebSocket, log),
		wsPath:       wsPath,
		jwtManager:   jwtManager,
		log:          log,
	}

	// 设置路由
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	// API文档
	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	// WebSocket订阅（对局频道的下行推送），路径可配置
	r.engine.GET(r.wsPath, r.wsHandler.MatchChannel)

	// API v1路由组，所有请求先解析调用方身份
	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.Identity(r.jwtManager))
	{
		match := v1.Group("/match")
		{
			match.POST("", r.matchHandler.CreateMatch)
			match.GET("/:id", r.matchHandler.GetState)
			match.POST("/:id/join", r.matchHandler.JoinMatch)
			match.POST("/:id/rejoin", r.matchHandler.Rejoin)
			match.POST("/:id/sync", r.matchHandler.Sync)
			match.POST("/:id/action", r.matchHandler.Action)
		}
	}
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := "ok"
	if !database.IsConnected() {
		status = "degraded"
	}
	c.JSON(200, gin.H{
		"status": status,
		"time":   time.Now().Unix(),
	})
}

// Engine 获取Gin引擎
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// MatchService 获取对局服务
func (r *Router) MatchService() *service.MatchService {
	return r.matchService
}
