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

	"github.com/devhaln/pagepal/backend/internal/config"
	"github.com/devhaln/pagepal/backend/internal/handler"
	"github.com/devhaln/pagepal/backend/internal/relevance"
	chatService "github.com/devhaln/pagepal/backend/internal/service/chat"
	"github.com/devhaln/pagepal/backend/internal/service/compile"
	"github.com/devhaln/pagepal/backend/internal/service/completion"
	store "github.com/devhaln/pagepal/backend/internal/service/conversation"
	"github.com/devhaln/pagepal/backend/internal/service/ingest"
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

	sessions, err := newStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to initialize session store: %v", err)
	}

	ingestSvc := ingest.New(sessions)

	var chatSvc *chatService.Service
	if cfg.AI.Enabled() {
		client := completion.NewClient(completion.Config{
			APIKey:          cfg.AI.APIKey,
			BaseURL:         cfg.AI.BaseURL,
			Model:           cfg.AI.Model,
			Temperature:     cfg.AI.Temperature,
			MaxOutputTokens: cfg.AI.MaxOutputTokens,
			Timeout:         cfg.AI.Timeout,
		})
		compiler := compile.New(compile.Options{
			HistoryLimit: cfg.Chat.HistoryLimit,
			ContextLimit: cfg.Chat.ContextLimit,
			Extract: relevance.Options{
				WindowChars:    cfg.Chat.WindowChars,
				MaxOutputChars: cfg.Chat.MaxExcerptChars,
			},
		})
		chatSvc = chatService.New(sessions, compiler, client)
		log.Printf("chat service initialized with model %s", cfg.AI.Model)
	} else {
		log.Println("GEMINI_API_KEY not configured, chat endpoints disabled")
	}

	router := handler.NewRouter(sessions, ingestSvc, chatSvc)

	startServer(ctx, cfg.Server, router)
}

func newStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.Backend == "redis" {
		s, err := store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return nil, err
		}
		log.Printf("using redis session store at %s", cfg.RedisAddr)
		return s, nil
	}
	log.Println("using in-memory session store")
	return store.NewMemoryStore(), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("PagePal backend listening on %s", addr)
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
