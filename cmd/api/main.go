package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/heartline/backend/internal/config"
	"github.com/zhouzirui/heartline/backend/internal/handler"
	"github.com/zhouzirui/heartline/backend/internal/handler/live"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/service/achievement"
	"github.com/zhouzirui/heartline/backend/internal/service/affection"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	"github.com/zhouzirui/heartline/backend/internal/service/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/ending"
	"github.com/zhouzirui/heartline/backend/internal/service/memory"
	"github.com/zhouzirui/heartline/backend/internal/service/room"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, continuing with system environment variables only", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	level, _ := cfg.Log.SlogLevel()
	logger, closeLog := config.SetupLogger(cfg.Log.File, level)
	slog.SetDefault(logger)
	defer closeLog()

	if !cfg.AI.Enabled() {
		return fmt.Errorf("%s 凭证未配置，无法生成角色回复", cfg.AI.Provider)
	}

	characters, err := character.LoadSeedFile(cfg.Store.CharactersFile)
	if err != nil {
		return err
	}
	characterStore := character.NewMemoryStore(characters)

	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	gateway, err := newGateway(ctx, cfg.AI)
	if err != nil {
		return fmt.Errorf("initialize AI gateway: %w", err)
	}
	slog.Info("AI gateway initialized", "provider", cfg.AI.Provider, "model", cfg.AI.ChatModelName())

	memoryEngine := memory.NewEngine(gateway, st, st, characterStore, memory.Config{
		TopK:         cfg.Session.MemoryTopK,
		Window:       cfg.Session.MemoryWindow,
		SummaryModel: cfg.AI.SummaryModel,
	})
	achievements := achievement.NewService(st)

	rooms := room.NewService(st, characterStore, room.Config{
		StartingEnergy: cfg.Session.StartingEnergy,
		CacheSize:      cfg.Session.OwnerCacheSize,
		CacheTTL:       cfg.Session.OwnerCacheTTL,
	})
	hub := live.NewHub(rooms)

	scorer := affection.NewScorer(gateway, st, hub, achievements, affection.Config{
		Workers:   cfg.Session.ScorerWorkers,
		QueueSize: cfg.Session.ScorerQueueSize,
		Model:     cfg.AI.ScoringModel,
	})
	scorerCtx, stopScorer := context.WithCancel(context.Background())
	defer stopScorer()
	scorer.Start(scorerCtx)

	turns := chat.NewService(rooms, st, characterStore, gateway, memoryEngine, scorer, chat.Config{
		TurnEnergyCost:  cfg.Session.TurnEnergyCost,
		EnergyPolicy:    chat.EnergyPolicy(cfg.Session.EnergyPolicy),
		HistoryLimit:    cfg.Session.HistoryLimit,
		SummaryInterval: cfg.Session.SummaryInterval,
		Temperature:     cfg.Session.ChatTemperature,
	})
	endings := ending.NewService(rooms, st, characterStore, memoryEngine, gateway, achievements, ending.Config{
		Model: cfg.AI.EndingModel,
	})

	router := handler.NewRouter(handler.Deps{
		Characters:     characterStore,
		Rooms:          rooms,
		Turns:          turns,
		Endings:        endings,
		Users:          st,
		Memory:         memoryEngine,
		Achievements:   achievements,
		Live:           hub,
		Health:         st,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Info("heartline backend listening", "addr", cfg.Server.Addr, "characters", len(characters))
	serveErr := runServer(ctx, srv, cfg.Server.ShutdownTimeout)

	// 先停止接收新事件，再等后台任务收尾，最后关闭数据库
	scorer.Close()
	memoryEngine.Wait()
	slog.Info("background workers drained")
	return serveErr
}

// newGateway 根据 AI_PROVIDER 组装聊天与向量后端。
func newGateway(ctx context.Context, cfg config.AIConfig) (*ai.Gateway, error) {
	var (
		chatBackend  ai.ChatBackend
		embedBackend ai.EmbeddingBackend
	)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		backend, err := ai.NewOpenAIBackend(ai.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			Model:          cfg.OpenAIModel,
			EmbeddingModel: cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, err
		}
		chatBackend, embedBackend = backend, backend
	default:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, err
		}
		backend, err := ai.NewEinoBackend(ctx, chatModel)
		if err != nil {
			return nil, err
		}
		chatBackend = backend

		if cfg.EmbeddingModel == "" {
			slog.Warn("AI_EMBEDDING_MODEL not set, long-term memory disabled")
			break
		}
		embedder, err := ai.NewArkEmbedder(ai.ArkEmbedderConfig{
			APIKey:    cfg.APIKey,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			BaseURL:   cfg.BaseURL,
			Region:    cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		embedBackend = embedder
	}

	policy := ai.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.CallTimeout = cfg.CallTimeout

	return ai.NewGateway(chatBackend, embedBackend,
		ai.WithRetryPolicy(policy),
		ai.WithDefaultModel(cfg.ChatModelName()),
		ai.WithEmbeddingModel(cfg.EmbeddingModel),
	), nil
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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
