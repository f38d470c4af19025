package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

// CLIPConfig configures the local CLIP model subprocess.
type CLIPConfig struct {
	PythonPath string        // path to python binary; empty = auto-detect
	ModuleName string        // default "clipmind_models"
	WorkDir    string        // scratch dir for request/response files
	Dimension  int           // expected vector dimension
	Timeout    time.Duration // per-invocation timeout
	Logger     *slog.Logger
}

// CLIPEmbedder invokes the bundled Python CLI to embed images and text
// into CLIP's joint vector space. Each call is one subprocess: the
// request is written as JSON, the CLI writes vectors to an output file.
type CLIPEmbedder struct {
	cfg    CLIPConfig
	python string
}

func NewCLIPEmbedder(cfg CLIPConfig) (*CLIPEmbedder, error) {
	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create embedding work dir: %w", err)
	}

	cfg.Logger.Info("clip embedder initialised",
		"python", python,
		"module", cfg.ModuleName,
		"dimension", cfg.Dimension,
	)
	return &CLIPEmbedder{cfg: cfg, python: python}, nil
}

func (c *CLIPEmbedder) Dimension() int { return c.cfg.Dimension }

func (c *CLIPEmbedder) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	return c.run(ctx, "image", paths)
}

func (c *CLIPEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return c.run(ctx, "text", texts)
}

type clipRequest struct {
	Inputs []string `json:"inputs"`
}

type clipResponse struct {
	Model      string      `json:"model"`
	Dimension  int         `json:"dimension"`
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *CLIPEmbedder) run(ctx context.Context, mode string, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	id := uuid.NewString()
	reqPath := filepath.Join(c.cfg.WorkDir, id+".req.json")
	resPath := filepath.Join(c.cfg.WorkDir, id+".res.json")
	defer os.Remove(reqPath)
	defer os.Remove(resPath)

	reqData, err := json.Marshal(clipRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	if err := os.WriteFile(reqPath, reqData, 0o600); err != nil {
		return nil, fmt.Errorf("write embed request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.python,
		"-m", c.cfg.ModuleName,
		"embed",
		"--mode", mode,
		"--in", reqPath,
		"--out", resPath,
	)
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&stderrTail{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("clip %s embedding (%d inputs): %w: %s",
			mode, len(inputs), err, stderrBuf.String())
	}
	c.cfg.Logger.Debug("clip embedding complete",
		"mode", mode,
		"inputs", len(inputs),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	data, err := os.ReadFile(resPath)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	var resp clipResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}

	if len(resp.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("clip returned %d embeddings for %d inputs", len(resp.Embeddings), len(inputs))
	}
	if resp.Dimension != c.cfg.Dimension {
		return nil, fmt.Errorf("clip returned dimension %d, expected %d", resp.Dimension, c.cfg.Dimension)
	}
	for _, v := range resp.Embeddings {
		Normalize(v)
	}
	return resp.Embeddings, nil
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

// stderrTail keeps only the last `limit` bytes written.
type stderrTail struct {
	w     *bytes.Buffer
	limit int
}

func (st *stderrTail) Write(p []byte) (int, error) {
	n := len(p)
	st.w.Write(p)
	if st.w.Len() > st.limit {
		b := st.w.Bytes()
		st.w.Reset()
		st.w.Write(b[len(b)-st.limit:])
	}
	return n, nil
}
