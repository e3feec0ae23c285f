package handlers

import (
	"time"

	"jankenserver/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter は各HTTPリクエストのルーティングを設定する
func NewRouter(h *Handler, allowOrigins []string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	//リクエストロガーを起動
	router.Use(gin.Recovery(), utils.RequestLogger(logger))

	//CORS（Cross-Origin Resource Sharing）ポリシーを設定
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = allowOrigins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", h.Healthz)
	router.POST("/rooms/:roomId/join", h.Join)

	session := router.Group("/session", h.Authenticate)
	session.GET("/view", h.View)
	session.POST("/choice", h.Choice)
	session.POST("/reset", h.Reset)

	router.GET("/ws", h.Authenticate, h.WebSocket)
	return router
}
