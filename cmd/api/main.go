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

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	analysis "github.com/zhouzirui/duet/backend/internal/analysis/safety"
	"github.com/zhouzirui/duet/backend/internal/config"
	"github.com/zhouzirui/duet/backend/internal/handler"
	safetymodel "github.com/zhouzirui/duet/backend/internal/model/safety"
	"github.com/zhouzirui/duet/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	safetyservice "github.com/zhouzirui/duet/backend/internal/service/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
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

	// Classifier configuration problems are fatal here, never per message.
	resolver, err := buildResolver(cfg.Safety)
	if err != nil {
		log.Fatalf("failed to build safety resolver: %v", err)
	}

	st, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	chatSvc := chatservice.NewService(st, resolver)

	// The facilitator model is optional; without it every reflection uses
	// the fallback template.
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing with fallback reflections - 请检查 Ark 模型相关环境变量")
			chatModel = nil
		} else {
			log.Println("AI facilitator model initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，AI反思将使用固定模板")
	}

	reflector, err := ai.NewReflector(ctx, chatSvc, chatModel, cfg.Safety.FallbackReflection)
	if err != nil {
		log.Fatalf("failed to build reflector: %v", err)
	}

	router := handler.NewRouter(chatSvc, reflector)

	startServer(ctx, cfg.Server, router)
}

func buildResolver(cfg config.SafetyConfig) (*safetyservice.Resolver, error) {
	patterns := safetymodel.DefaultPatterns()
	if cfg.PatternsPath != "" {
		loaded, err := safetymodel.LoadPatternFile(cfg.PatternsPath)
		if err != nil {
			return nil, err
		}
		patterns = loaded
		log.Printf("loaded safety patterns from %s", cfg.PatternsPath)
	}

	examples := safetymodel.DefaultExamples()
	if cfg.ExamplesPath != "" {
		loaded, err := safetymodel.LoadExampleFile(cfg.ExamplesPath)
		if err != nil {
			return nil, err
		}
		examples = loaded
		log.Printf("loaded %d safety training examples from %s", len(loaded.Examples), cfg.ExamplesPath)
	}

	detector := analysis.NewLexicalDetector(patterns)
	classifier := analysis.NewSimilarityClassifier(examples)
	if cfg.ConservativeThreshold != nil {
		classifier.SetConservativeThreshold(*cfg.ConservativeThreshold)
	}
	return safetyservice.NewResolver(detector, classifier), nil
}

func buildStore(cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.DBPath == "" {
		log.Println("DB_PATH 未配置，使用内存存储")
		return store.NewMemoryStore(), func() {}, nil
	}

	sqlite, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("sqlite store opened at %s", cfg.DBPath)
	return sqlite, func() {
		if err := sqlite.Close(); err != nil {
			log.Printf("failed to close store: %v", err)
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Duet backend listening on %s", addr)
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
