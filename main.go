package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"jankenserver/database" //設定の読み込みとストアの初期化
	"jankenserver/handlers" //HTTPとWebSocketの入口
	"jankenserver/room"     //ルームの読み書き
	"jankenserver/utils"    //ロガーの初期化とCronジョブ(アイドルセッションの片付け)

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := os.Getenv("JANKEN_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}
	config, err := database.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := utils.InitLogger(config.Debug) // ロガーの初期化
	if err != nil {
		panic(err) // 失敗した場合はプログラム停止
	}
	defer logger.Sync() // ロガーのクリーンアップ

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.JWTSecret == "" {
		logger.Fatal("JANKEN_JWT_SECRET が設定されていません")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tree, err := database.OpenStore(ctx, config, logger)
	if err != nil {
		logger.Fatal("ストアの初期化に失敗しました", zap.String("store", config.Store), zap.Error(err))
	}
	defer tree.Close()

	sessions := handlers.NewSessions(room.NewRepository(tree, logger), logger)
	defer sessions.Close()

	// クーロンスケジューラのセットアップと呼び出し
	sweeper, err := utils.CronSweeper(config.SweepSpec, config.SessionIdleTTL.Duration, sessions, logger)
	if err != nil {
		logger.Fatal("Cronジョブの登録に失敗しました", zap.Error(err))
	}
	defer sweeper.Stop()

	h := handlers.NewHandler(sessions, handlers.NewTokens(config.JWTSecret, config.SessionTTL.Duration), logger)
	srv := &http.Server{
		Addr:    config.HTTPAddr,
		Handler: handlers.NewRouter(h, config.AllowOrigins, logger),
	}

	go func() {
		logger.Info("Listening", zap.String("addr", config.HTTPAddr), zap.String("store", config.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run HTTP server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
