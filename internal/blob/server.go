package blob

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path"
)

// Server serves blobs over HTTP with signature verification and Range
// support, so video players can seek without downloading whole files.
type Server struct {
	store  *Store
	signer *Signer
	logger *slog.Logger
}

func NewServer(store *Store, signer *Signer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, signer: signer, logger: logger}
}

// ServeKey handles a request for the blob at key, already stripped of
// the mount prefix.
func (s *Server) ServeKey(w http.ResponseWriter, r *http.Request, key string) {
	key = path.Clean("/" + key)[1:]
	if key == "" {
		http.NotFound(w, r)
		return
	}

	if err := s.signer.Verify(key, r.URL.Query()); err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrExpired) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	filePath := s.store.Path(key)
	if filePath == "" {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		s.logger.Error("cannot open blob", "key", key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// ServeContent negotiates Range, If-Modified-Since, and content
	// type from the key extension.
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}
