package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mossy-p/webrtc-roulette/internal/middleware"
)

// RouterConfig is what both routers share.
type RouterConfig struct {
	AllowedOrigins   []string
	JWTSecret        string
	OperatorPassword string
	Logger           *slog.Logger
}

func newRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(cfg.Logger))

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

// NewMatchingRouter serves the matching service.
func NewMatchingRouter(m *Matcher, cfg RouterConfig) *gin.Engine {
	router := newRouter(cfg)
	router.POST("/registerForMatching", m.Register)
	router.GET("/ws/:name", m.HandleSocket)
	return router
}

// NewSignalingRouter serves the relay and its room API.
func NewSignalingRouter(relay *Relay, rooms *Rooms, cfg RouterConfig) *gin.Engine {
	router := newRouter(cfg)
	router.GET("/ws/:name", relay.HandleSocket)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", Login(cfg.JWTSecret, cfg.OperatorPassword))
		apiGroup.GET("/rooms/:code", rooms.GetRoom)
		apiGroup.DELETE("/rooms/:code", middleware.JWTAuth(cfg.JWTSecret), rooms.DeleteRoom)
	}
	return router
}
