package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/datachat/backend/internal/config"
	"github.com/zhouzirui/datachat/backend/internal/handler"
	"github.com/zhouzirui/datachat/backend/internal/middleware"
	"github.com/zhouzirui/datachat/backend/internal/service/ai"
	"github.com/zhouzirui/datachat/backend/internal/service/analyst"
	"github.com/zhouzirui/datachat/backend/internal/service/chat"
	"github.com/zhouzirui/datachat/backend/internal/service/dataset"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	datasetPath, err := filepath.Abs(cfg.Dataset.Path)
	if err != nil {
		log.Fatalf("failed to resolve dataset path %q: %v", cfg.Dataset.Path, err)
	}
	loader := dataset.NewLoader(os.DirFS(filepath.Dir(datasetPath)), filepath.Base(datasetPath))

	chatService := chat.NewService(cfg.Session.TTL)
	go chatService.RunJanitor(ctx, janitorInterval(cfg.Session.TTL))

	aiService := ai.NewService(cfg.AI)
	log.Printf("AI service configured provider=%s model=%s stream=%t", cfg.AI.Provider, aiService.ModelName(), aiService.StreamingEnabled())

	analystService := analyst.NewService(
		chatService,
		loader,
		aiService,
		ai.NewPromptBuilder(cfg.Dataset.ContextRows),
		cfg.Dataset.PreviewRows,
	)

	router := handler.NewRouter(chatService, analystService, middleware.SessionOptions{
		CookieName: cfg.Session.CookieName,
		Secure:     cfg.Session.CookieSecure,
	}, cfg.Server.AllowedOrigins)

	startServer(ctx, cfg.Server, router)
}

func janitorInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Minute {
		return time.Minute
	}
	return interval
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Datachat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
