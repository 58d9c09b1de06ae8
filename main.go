package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snakepay/config"
	"snakepay/server"
)

// SnakePay 入口：启动 HTTP + WebSocket 服务，并初始化会话管理器
func main() {
	var envFile, addr, web string
	flag.StringVar(&envFile, "env", ".env", "dotenv file with SNAKE_* settings (optional)")
	flag.StringVar(&addr, "addr", "", "server listen address, overrides SNAKE_ADDR, e.g. :8080")
	flag.StringVar(&web, "web", "web", "static web client directory, empty to disable")
	flag.Parse()

	cfg, err := config.Load(envFile)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	led, history, closeLedger, err := server.OpenLedger(cfg)
	if err != nil {
		server.Log.Fatalf("ledger: %v", err)
	}
	defer closeLedger()

	settings, err := server.SettingsFromConfig(cfg)
	if err != nil {
		server.Log.Fatalf("settings: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if web != "" {
		if _, err := os.Stat(web); err != nil {
			server.Log.Warnw("static web dir not found, serving API only", "dir", web)
			web = ""
		}
	}

	mgr := server.NewManager(ctx, settings, led)
	srv := &http.Server{Addr: cfg.Addr, Handler: server.Routes(mgr, history, web)}

	go func() {
		server.Log.Infof("SnakePay listening on %s; ledger=%s tiers=%s formula=%s", cfg.Addr, cfg.LedgerDriver, cfg.TierPreset, cfg.RewardFormula)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnw("http shutdown", "err", err)
	}
	mgr.Close()
}
