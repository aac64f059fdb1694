// Package web serves the HTTP control surface: video uploads, health and
// metrics endpoints, and the websocket control socket that drives pipeline
// runs interactively.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/streamwatch/internal/alert"
	"github.com/MrWong99/streamwatch/internal/app"
	"github.com/MrWong99/streamwatch/internal/config"
	"github.com/MrWong99/streamwatch/internal/health"
	"github.com/MrWong99/streamwatch/internal/observe"
	"github.com/MrWong99/streamwatch/pkg/provider/stt"
	"github.com/MrWong99/streamwatch/pkg/types"
)

const (
	// maxUploadBytes bounds multipart video uploads (2 GiB).
	maxUploadBytes = 2 << 30

	shutdownTimeout = 5 * time.Second
)

// Server is the streamwatch HTTP control server.
type Server struct {
	cfg      *config.Config
	provider stt.Provider
	metrics  *observe.Metrics

	// notifiers are attached to every pipeline started over the control
	// socket, in addition to the per-connection websocket push.
	notifiers []alert.Notifier

	handler http.Handler
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithNotifiers sets extra alert notifiers for pipelines started over the
// control socket.
func WithNotifiers(notifiers ...alert.Notifier) ServerOption {
	return func(s *Server) { s.notifiers = notifiers }
}

// New creates a Server. The provider is shared by all pipeline runs.
func New(cfg *config.Config, provider stt.Provider, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		provider: provider,
		metrics:  observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /videos/{name}", s.handleVideo)
	mux.Handle("GET /metrics", promhttp.Handler())

	health.New(
		health.Checker{Name: "uploads", Check: s.checkUploadDir},
		health.Checker{Name: "decoder", Check: s.checkDecoder},
	).Register(mux)

	// The websocket upgrade needs the raw ResponseWriter, so /ws sits outside
	// the instrumented handler chain.
	outer := http.NewServeMux()
	outer.HandleFunc("GET /ws", s.handleWS)
	outer.Handle("/", observe.Middleware(s.metrics)(mux))
	s.handler = outer

	return s
}

// Handler returns the server's root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Server.ListenAddr,
		Handler:     s.handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.cfg.Server.ListenAddr, "tls", s.cfg.Server.TLS != nil)
		if tls := s.cfg.Server.TLS; tls != nil {
			errCh <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web: serve: %w", err)
	}
}

// newManager builds a run manager for one control connection. sink and
// wsNotifier push transcript and alert events back over that connection.
func (s *Server) newManager(sink func(tr transcriptEvent), wsNotifier alert.Notifier) *app.Manager {
	return app.NewManager(func() *app.Pipeline {
		notifiers := append([]alert.Notifier{wsNotifier, &alert.LogNotifier{}}, s.notifiers...)
		return app.NewPipeline(s.cfg, s.provider,
			app.WithMetrics(s.metrics),
			app.WithNotifiers(notifiers...),
			app.WithTranscriptSink(func(tr types.Transcript) {
				sink(transcriptEvent{
					Type:     "transcript",
					Text:     tr.Text,
					IsFinal:  tr.IsFinal,
					StartSec: tr.Start.Seconds(),
				})
			}),
		)
	})
}

// handleUpload accepts a multipart video upload and stores it under the
// configured uploads directory.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing file field: %v", err))
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	if err := os.MkdirAll(s.cfg.Server.UploadDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "cannot create upload directory")
		return
	}

	dst := filepath.Join(s.cfg.Server.UploadDir, name)
	out, err := os.Create(dst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot create file")
		return
	}
	defer out.Close()

	n, err := io.Copy(out, file)
	if err != nil {
		os.Remove(dst)
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}

	slog.Info("video uploaded", "name", name, "bytes", n)
	writeJSON(w, http.StatusCreated, map[string]any{"name": name, "size": n})
}

// handleVideo serves a previously uploaded video file.
func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	name := sanitizeFilename(r.PathValue("name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.cfg.Server.UploadDir, name)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no such video")
		return
	}
	http.ServeFile(w, r, path)
}

// checkUploadDir verifies the uploads directory exists or can be created.
func (s *Server) checkUploadDir(_ context.Context) error {
	return os.MkdirAll(s.cfg.Server.UploadDir, 0o755)
}

// checkDecoder verifies the configured decoder executable is on PATH.
func (s *Server) checkDecoder(_ context.Context) error {
	path := s.cfg.Audio.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	_, err := exec.LookPath(path)
	return err
}

// sanitizeFilename reduces a client-supplied filename to a safe base name.
// Returns "" for names that resolve to nothing servable.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ""
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
