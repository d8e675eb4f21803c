package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/webrtc-roulette/config"
	"github.com/mossy-p/webrtc-roulette/internal/handlers"
	"github.com/mossy-p/webrtc-roulette/internal/logging"
	"github.com/mossy-p/webrtc-roulette/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	log := logging.New(cfg.Environment)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Server)
	if err != nil {
		log.Error("failed to open store", "store", cfg.Server.Store, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	log.Info("store ready", "store", cfg.Server.Store)

	routerCfg := handlers.RouterConfig{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		JWTSecret:        cfg.Server.JWTSecret,
		OperatorPassword: cfg.Server.OperatorPassword,
		Logger:           log,
	}
	relay := handlers.NewRelay(st, log)
	servers := []*http.Server{
		{
			Addr:    cfg.Server.MatchingAddr,
			Handler: handlers.NewMatchingRouter(handlers.NewMatcher(st, log), routerCfg),
		},
		{
			Addr:    cfg.Server.SignalingAddr,
			Handler: handlers.NewSignalingRouter(relay, handlers.NewRooms(st, relay, log), routerCfg),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("shutdown", "addr", srv.Addr, "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("stopped")
}

func openStore(ctx context.Context, cfg config.ServerConfig) (store.Store, error) {
	if cfg.Store == "redis" {
		rs, err := store.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return rs, nil
	}
	return store.NewMemoryStore(), nil
}
