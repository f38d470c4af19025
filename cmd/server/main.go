package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clipmind/clipmind-server/internal/api"
	"github.com/clipmind/clipmind-server/internal/blob"
	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/config"
	"github.com/clipmind/clipmind-server/internal/db"
	"github.com/clipmind/clipmind-server/internal/embedding"
	"github.com/clipmind/clipmind-server/internal/ingest"
	"github.com/clipmind/clipmind-server/internal/logging"
	"github.com/clipmind/clipmind-server/internal/media"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/search"
	"github.com/clipmind/clipmind-server/internal/vectorindex"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	for _, dir := range []string{cfg.DataDir(), cfg.MediaDir(), cfg.ArtifactsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting clipmind server", "version", config.Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := catalog.NewRepository(database.Conn())

	apiToken, err := ensureSecret(repo, api.AuthTokenConfigKey)
	if err != nil {
		return fmt.Errorf("failed to ensure api token: %w", err)
	}
	logger.Info("api token ready", "token", logging.SanitizeToken(apiToken))

	signingSecret := cfg.SigningSecret()
	if signingSecret == "" {
		signingSecret, err = ensureSecret(repo, "signing_secret")
		if err != nil {
			return fmt.Errorf("failed to ensure signing secret: %w", err)
		}
	}

	m := metrics.New()

	store, err := blob.NewStore(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}
	signer := blob.NewSigner(signingSecret, cfg.SignedURLTTL(), "/files")

	// Media analysis stack.
	ffmpeg := media.NewRunner(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	detector := media.NewSceneDetector(ffmpeg, media.SceneDetectorConfig{
		Threshold:     cfg.SceneThreshold(),
		LowThreshold:  config.LowSceneThreshold,
		HighThreshold: config.HighSceneThreshold,
		MinScenes:     config.MinScenes,
		MaxScenes:     config.MaxScenes,
	}, logger)
	transcriber := media.NewWhisperTranscriber(cfg.OpenAIKey(), logger)
	analyzer := media.NewAnalyzer(ffmpeg, detector, transcriber, cfg.ArtifactsDir(), logger)

	// Embedding providers. Ingestion goes through the degraded
	// wrappers (zero-vector fallback); search uses the raw providers
	// so a dead provider fails the query instead of searching with a
	// zero vector.
	clip, err := embedding.NewCLIPEmbedder(embedding.CLIPConfig{
		PythonPath: cfg.ModelsPython(),
		ModuleName: cfg.ModelsModule(),
		WorkDir:    filepath.Join(cfg.ArtifactsDir(), "embed"),
		Dimension:  cfg.VisualDimension(),
		Timeout:    cfg.EmbedTimeout(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize clip embedder: %w", err)
	}
	textEmbedder := embedding.NewOpenAIEmbedder(cfg.OpenAIKey(), cfg.TextDimension(), logger)

	visualIndex := newIndexClient(cfg, "visual", logger)
	textIndex := newIndexClient(cfg, "text", logger)

	// A schema mismatch would corrupt the index silently, so it aborts
	// startup rather than degrading.
	validateCtx, validateCancel := context.WithTimeout(context.Background(), cfg.IndexTimeout())
	defer validateCancel()
	if err := visualIndex.ValidateDimension(validateCtx, cfg.VisualDimension()); err != nil {
		return fmt.Errorf("visual index validation: %w", err)
	}
	if err := textIndex.ValidateDimension(validateCtx, cfg.TextDimension()); err != nil {
		return fmt.Errorf("text index validation: %w", err)
	}
	logger.Info("index schemas validated",
		"visual_dim", cfg.VisualDimension(), "text_dim", cfg.TextDimension())

	orchestrator := ingest.NewOrchestrator(ingest.Config{
		ArtifactsDir:   cfg.ArtifactsDir(),
		EmbedBatchSize: cfg.EmbedBatchSize(),
		MaxRetries:     cfg.IngestMaxRetries(),
		AnalyzeTimeout: cfg.AnalyzeTimeout(),
		EmbedTimeout:   cfg.EmbedTimeout(),
		IndexTimeout:   cfg.IndexTimeout(),
	}, repo, analyzer, ffmpeg, store,
		embedding.NewDegradedJoint(clip, m, logger),
		embedding.NewDegradedText(textEmbedder, m, logger),
		visualIndex, textIndex, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := ingest.NewRunner(repo, orchestrator, cfg.IngestWorkers(), logger)
	runner.Start(ctx)

	searchSvc := search.NewService(search.Config{
		VisualWeight: cfg.VisualWeight(),
		TextWeight:   cfg.TextWeight(),
	}, repo, search.NewRepository(database.Conn()),
		clip, textEmbedder, visualIndex, textIndex, signer, m, logger)

	apiServer := api.NewServer(api.ServerConfig{
		Port:          cfg.Port(),
		Repository:    repo,
		Search:        searchSvc,
		Store:         store,
		Blob:          blob.NewServer(store, signer, logger),
		Signer:        signer,
		Runner:        runner,
		Deleter:       vectorindex.NewMultiDeleter(visualIndex, textIndex),
		Metrics:       m,
		Logger:        logger,
		StartTime:     startTime,
		IngestWorkers: cfg.IngestWorkers(),
	})

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	cancel()
	runner.Stop()

	logger.Info("shutdown complete")
	return nil
}

// newIndexClient builds the client for one modality's index. Index
// names are namespaced so several deployments can share one service.
func newIndexClient(cfg config.Config, modality string, logger *slog.Logger) *vectorindex.Client {
	namespace := cfg.IndexNamespace()
	if namespace == "" {
		namespace = "clipmind"
	}
	indexName := namespace + "-" + modality

	return vectorindex.NewClient(vectorindex.ClientConfig{
		BaseURL:     cfg.IndexBaseURL() + "/indexes/" + indexName,
		APIKey:      cfg.IndexAPIKey(),
		IndexName:   indexName,
		UpsertBatch: cfg.UpsertBatchSize(),
		MaxRetries:  3,
		Timeout:     cfg.IndexTimeout(),
		Logger:      logger,
	})
}

func ensureSecret(repo catalog.Repository, key string) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", err
	}
	secret := hex.EncodeToString(secretBytes)

	if err := repo.SetConfig(ctx, key, secret); err != nil {
		return "", err
	}
	return secret, nil
}
