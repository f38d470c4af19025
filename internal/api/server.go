package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clipmind/clipmind-server/internal/blob"
	"github.com/clipmind/clipmind-server/internal/catalog"
	"github.com/clipmind/clipmind-server/internal/ingest"
	"github.com/clipmind/clipmind-server/internal/metrics"
	"github.com/clipmind/clipmind-server/internal/search"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port          int
	Repository    catalog.Repository
	Search        *search.Service
	Store         *blob.Store
	Blob          *blob.Server
	Signer        search.URLSigner
	Runner        *ingest.Runner
	Deleter       VectorDeleter
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	StartTime     time.Time
	IngestWorkers int
}

func (cfg ServerConfig) signedURL(key string) string {
	if key == "" || cfg.Signer == nil {
		return ""
	}
	return cfg.Signer.Sign(key)
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: router,
			// Write timeout stays off: uploads and ranged video reads
			// are long-lived by design.
			ReadTimeout:  0,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
