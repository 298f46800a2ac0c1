package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"AssistantGateway/internal/app/backend"
	"AssistantGateway/internal/app/scheduler"
	"AssistantGateway/internal/config"
	"AssistantGateway/internal/service/chat"
	"AssistantGateway/internal/service/web"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errShutdown = errors.New("shutdown signal")

func main() {
	cfg := config.NewConfig(os.Args[1:])

	// в режиме дебага: dev-логгер, иначе production (JSON)
	var logger *zap.Logger
	var err error
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		_ = logger.Sync()
	}()

	sugar.Infow(
		"Starting chat server",
		"DebugMode", cfg.DebugMode,
		"BindAddr", cfg.Server.BindAddr,
		"Backend", cfg.Assistant.Backend,
	)

	gateway := backend.NewGateway(cfg.Assistant, sugar)
	chatSvc := chat.NewService(gateway, chat.Config{
		Greeting:      cfg.Chat.Greeting,
		MaxTranscript: cfg.Chat.MaxTranscript,
	}, sugar)
	handler := web.NewHandler(chatSvc, web.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ApologyText:    cfg.Chat.ApologyText,
	}, sugar)
	srv := web.NewServer(cfg.Server.BindAddr, handler.Router(), sugar)
	sweeper := scheduler.New(chatSvc, cfg.Chat.SessionTTL, 0, sugar)

	// Graceful shutdown on Ctrl+C / SIGTERM
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel(errShutdown)
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) && !errors.Is(err, context.Canceled) {
		sugar.Errorw("Chat server stopped with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
	sugar.Infow("server stopped")
}
