// Package config provides configuration management for the ClipMind server.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort     = 8686
	DefaultLogLevel = "info"
	DefaultDataDir  = ".clipmind"

	// Environment variable names
	EnvPort     = "CLIPMIND_PORT"
	EnvLogLevel = "CLIPMIND_LOG_LEVEL"
	EnvDataDir  = "CLIPMIND_DATA_DIR"

	EnvFFmpegPath  = "CLIPMIND_FFMPEG_PATH"
	EnvFFprobePath = "CLIPMIND_FFPROBE_PATH"

	EnvModelsPython = "CLIPMIND_MODELS_PYTHON"
	EnvModelsModule = "CLIPMIND_MODELS_MODULE"

	EnvOpenAIKey       = "CLIPMIND_OPENAI_API_KEY"
	EnvIndexBaseURL    = "CLIPMIND_INDEX_BASE_URL"
	EnvIndexAPIKey     = "CLIPMIND_INDEX_API_KEY"
	EnvIndexNamespace  = "CLIPMIND_INDEX_NAMESPACE"
	EnvIngestWorkers   = "CLIPMIND_INGEST_WORKERS"
	EnvSigningSecret   = "CLIPMIND_SIGNING_SECRET"
	EnvVisualDimension = "CLIPMIND_VISUAL_DIM"
	EnvTextDimension   = "CLIPMIND_TEXT_DIM"

	// Database filename
	DBFilename = "clipmind.db"

	// Models CLI defaults
	DefaultModelsModule = "clipmind_models"

	// Embedding dimensions. Visual and joint-text vectors share the CLIP
	// ViT-B/32 space; the text-only space is the OpenAI ada-002 space.
	// A mismatch against the index schema aborts startup.
	DefaultVisualDimension = 512
	DefaultTextDimension   = 1536

	// Scene detection thresholds (ffmpeg scene score, 0..1 scale).
	DefaultSceneThreshold = 0.30
	LowSceneThreshold     = 0.15
	HighSceneThreshold    = 0.50
	MinScenes             = 5
	MaxScenes             = 100

	// Hybrid fusion weights: visual hits carry 0.6 of their similarity,
	// text hits 0.4, added together when both lists contain the same id.
	DefaultVisualWeight = 0.6
	DefaultTextWeight   = 0.4

	// Batch sizes
	DefaultEmbedBatchSize  = 8
	DefaultUpsertBatchSize = 100

	// Ingestion retry policy: original attempt plus this many retries.
	DefaultIngestMaxRetries = 3

	// Stage timeouts (seconds)
	DefaultAnalyzeTimeout    = 600
	DefaultTranscribeTimeout = 900
	DefaultEmbedTimeout      = 600
	DefaultIndexTimeout      = 60

	DefaultIngestWorkers = 2

	// Signed URL lifetime
	DefaultSignedURLTTL = 15 * time.Minute
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	MediaDir() string
	ArtifactsDir() string

	FFmpegPath() string
	FFprobePath() string
	ModelsPython() string
	ModelsModule() string

	OpenAIKey() string
	IndexBaseURL() string
	IndexAPIKey() string
	IndexNamespace() string

	VisualDimension() int
	TextDimension() int
	VisualWeight() float64
	TextWeight() float64

	SceneThreshold() float64
	EmbedBatchSize() int
	UpsertBatchSize() int
	IngestWorkers() int
	IngestMaxRetries() int

	AnalyzeTimeout() time.Duration
	TranscribeTimeout() time.Duration
	EmbedTimeout() time.Duration
	IndexTimeout() time.Duration

	SigningSecret() string
	SignedURLTTL() time.Duration
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port     int
	logLevel string
	dataDir  string

	ffmpegPath   string
	ffprobePath  string
	modelsPython string
	modelsModule string

	openAIKey      string
	indexBaseURL   string
	indexAPIKey    string
	indexNamespace string

	visualDim     int
	textDim       int
	ingestWorkers int
	signingSecret string
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		visualDim:     DefaultVisualDimension,
		textDim:       DefaultTextDimension,
		ingestWorkers: DefaultIngestWorkers,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.ffmpegPath = os.Getenv(EnvFFmpegPath)
	cfg.ffprobePath = os.Getenv(EnvFFprobePath)
	cfg.modelsPython = os.Getenv(EnvModelsPython)
	cfg.modelsModule = os.Getenv(EnvModelsModule)

	cfg.openAIKey = os.Getenv(EnvOpenAIKey)
	cfg.indexBaseURL = os.Getenv(EnvIndexBaseURL)
	cfg.indexAPIKey = os.Getenv(EnvIndexAPIKey)
	cfg.indexNamespace = os.Getenv(EnvIndexNamespace)
	cfg.signingSecret = os.Getenv(EnvSigningSecret)

	if w := os.Getenv(EnvIngestWorkers); w != "" {
		workers, err := strconv.Atoi(w)
		if err != nil || workers < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvIngestWorkers)
		}
		cfg.ingestWorkers = workers
	}

	if d := os.Getenv(EnvVisualDimension); d != "" {
		dim, err := strconv.Atoi(d)
		if err != nil || dim < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvVisualDimension)
		}
		cfg.visualDim = dim
	}

	if d := os.Getenv(EnvTextDimension); d != "" {
		dim, err := strconv.Atoi(d)
		if err != nil || dim < 1 {
			return nil, fmt.Errorf("invalid %s: must be a positive integer", EnvTextDimension)
		}
		cfg.textDim = dim
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// MediaDir returns the directory holding uploaded video files
func (c *EnvConfig) MediaDir() string {
	return filepath.Join(c.dataDir, "media")
}

// ArtifactsDir returns the directory for intermediate ingestion artifacts
// (extracted audio, keyframes). Contents are transient.
func (c *EnvConfig) ArtifactsDir() string {
	return filepath.Join(c.dataDir, "artifacts")
}

func (c *EnvConfig) FFmpegPath() string {
	if c.ffmpegPath != "" {
		return c.ffmpegPath
	}
	return "ffmpeg"
}

func (c *EnvConfig) FFprobePath() string {
	if c.ffprobePath != "" {
		return c.ffprobePath
	}
	return "ffprobe"
}

func (c *EnvConfig) ModelsPython() string {
	return c.modelsPython
}

func (c *EnvConfig) ModelsModule() string {
	if c.modelsModule != "" {
		return c.modelsModule
	}
	return DefaultModelsModule
}

func (c *EnvConfig) OpenAIKey() string {
	return c.openAIKey
}

func (c *EnvConfig) IndexBaseURL() string {
	return c.indexBaseURL
}

func (c *EnvConfig) IndexAPIKey() string {
	return c.indexAPIKey
}

func (c *EnvConfig) IndexNamespace() string {
	return c.indexNamespace
}

func (c *EnvConfig) VisualDimension() int {
	return c.visualDim
}

func (c *EnvConfig) TextDimension() int {
	return c.textDim
}

func (c *EnvConfig) VisualWeight() float64 {
	return DefaultVisualWeight
}

func (c *EnvConfig) TextWeight() float64 {
	return DefaultTextWeight
}

func (c *EnvConfig) SceneThreshold() float64 {
	return DefaultSceneThreshold
}

func (c *EnvConfig) EmbedBatchSize() int {
	return DefaultEmbedBatchSize
}

func (c *EnvConfig) UpsertBatchSize() int {
	return DefaultUpsertBatchSize
}

func (c *EnvConfig) IngestWorkers() int {
	return c.ingestWorkers
}

func (c *EnvConfig) IngestMaxRetries() int {
	return DefaultIngestMaxRetries
}

func (c *EnvConfig) AnalyzeTimeout() time.Duration {
	return time.Duration(DefaultAnalyzeTimeout) * time.Second
}

func (c *EnvConfig) TranscribeTimeout() time.Duration {
	return time.Duration(DefaultTranscribeTimeout) * time.Second
}

func (c *EnvConfig) EmbedTimeout() time.Duration {
	return time.Duration(DefaultEmbedTimeout) * time.Second
}

func (c *EnvConfig) IndexTimeout() time.Duration {
	return time.Duration(DefaultIndexTimeout) * time.Second
}

func (c *EnvConfig) SigningSecret() string {
	return c.signingSecret
}

func (c *EnvConfig) SignedURLTTL() time.Duration {
	return DefaultSignedURLTTL
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
