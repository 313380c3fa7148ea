package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/saikaki/backend/internal/config"
	"github.com/saikaki/backend/internal/handler"
	"github.com/saikaki/backend/internal/service/ai"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	visionservice "github.com/saikaki/backend/internal/service/vision"
	"github.com/saikaki/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	recordStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open record store: %v", err)
	}
	defer recordStore.Close()

	chatSvc := chatservice.NewService(recordStore)

	var completer ai.Completer
	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality")
		} else {
			completer = aiSvc
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("ark credentials not configured, skipping AI initialization")
	}

	enricher := enrich.NewSearchEnricher(cfg.Enrich)
	visionSvc := visionservice.NewService(cfg.Vision)

	router := handler.NewRouter(chatSvc, completer, enricher, visionSvc)

	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.SQLiteDSN == "" {
		log.Println("SQLITE_DSN not set, using in-memory record store")
		return store.NewMemoryStore(), nil
	}
	log.Printf("using sqlite record store at %s", cfg.SQLiteDSN)
	return store.NewSQLiteStore(cfg.SQLiteDSN)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Sai Kaki backend listening on %s", addr)
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
