package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go-chat-hub/internal/api"
	"go-chat-hub/internal/audit"
	"go-chat-hub/internal/auth"
	"go-chat-hub/internal/config"
	"go-chat-hub/internal/conversation"
	"go-chat-hub/internal/llm"
	"go-chat-hub/internal/logger"
	"go-chat-hub/internal/storage"
	"go-chat-hub/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configName := flag.String("config", "config", "config file name (without extension) looked up in the working directory")
	flag.Parse()

	cfg, err := config.Load(*configName)
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Connect(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer storage.Close(db)

	journal := audit.NewAuditService(db, zl)
	defer journal.Close()

	generator, err := llm.FromConfig(ctx, cfg.Generation, llm.NewTiktokenCounter(), zl)
	if err != nil {
		return err
	}

	opts := websocket.OptionsFromConfig(cfg)
	opts.Store = conversation.NewConversationService(db)
	opts.Generator = generator
	opts.Journal = journal
	opts.Logger = zl
	hub := websocket.NewHub(opts)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(api.Dependencies{
		Config: cfg,
		Hub:    hub,
		Gate:   auth.NewIdentityGate(cfg.Auth.Secret),
		Audit:  journal,
		Logger: zl,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return server.Serve(gctx)
	})

	err = g.Wait()
	hub.Stop()
	hub.Wait()
	zl.Info("hub drained", zap.Int("active_connections", hub.Stats().ActiveConnections))
	return err
}
