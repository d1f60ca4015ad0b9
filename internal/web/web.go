package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"lcdpanel/internal/config"
	"lcdpanel/internal/drawer"
	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/refresh"
	"lcdpanel/internal/source"
)

const (
	// maxImageBody bounds uploaded image files.
	maxImageBody    = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Panel is the drawing surface behind the API. *drawer.Panel implements it.
type Panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Snapshot() *image.NRGBA
	Stats() drawer.Stats
}

// FrameWriter accepts raw little-endian RGB565 video memory. *fbdev.Device
// implements it.
type FrameWriter interface {
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
}

// Refresher runs the configured source. *refresh.Runner implements it.
type Refresher interface {
	RunOnce(ctx context.Context) error
	Status() refresh.Status
}

// PanelInfo is the static part of /api/status.
type PanelInfo struct {
	Device     string `json:"device"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Rotation   int    `json:"rotation"`
	ColorOrder string `json:"color_order"`
	Layout     string `json:"layout"`
	NoHardware bool   `json:"no_hardware,omitempty"`
}

// Server provides the HTTP API for previewing and feeding the panel.
type Server struct {
	cfg       *config.Config
	info      PanelInfo
	panel     Panel
	frames    FrameWriter
	refresher Refresher
	mux       *http.ServeMux
}

// NewServer constructs a new Server. frames and refresher may be nil.
func NewServer(cfg *config.Config, info PanelInfo, panel Panel, frames FrameWriter, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		info:      info,
		panel:     panel,
		frames:    frames,
		refresher: refresher,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="lcdpanel", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Listen, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)
	s.mux.HandleFunc("PUT /api/frame", s.handleFrame)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type statusResponse struct {
	Panel   PanelInfo       `json:"panel"`
	Flush   drawer.Stats    `json:"flush"`
	Refresh *refresh.Status `json:"refresh,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Panel: s.info,
		Flush: s.panel.Stats(),
	}
	if s.refresher != nil {
		st := s.refresher.Status()
		resp.Refresh = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePreview(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, s.panel.Snapshot()); err != nil {
		appLog.Error("failed to encode preview", err)
	}
}

// handleFrame accepts either an encoded image, fitted to the panel, or
// with Content-Type application/octet-stream a raw frame of exactly the
// video memory size.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/octet-stream") {
		s.handleRawFrame(w, r)
		return
	}

	img, err := source.Decode(http.MaxBytesReader(w, r.Body, maxImageBody), s.panel.Bounds().Size())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.panel.Draw(s.panel.Bounds(), img, image.Point{}); err != nil {
		appLog.Error("api frame: draw failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.panel.Stats())
}

func (s *Server) handleRawFrame(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		writeError(w, http.StatusNotImplemented, "raw frames not available")
		return
	}
	size := s.frames.Size()
	data, err := io.ReadAll(io.LimitReader(r.Body, size+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if int64(len(data)) != size {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("raw frame must be %d bytes of little-endian RGB565", size))
		return
	}
	if _, err := s.frames.WriteAt(data, 0); err != nil {
		appLog.Error("api frame: raw write failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.panel.Stats())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusConflict, refresh.ErrNoSource.Error())
		return
	}
	err := s.refresher.RunOnce(r.Context())
	switch {
	case errors.Is(err, refresh.ErrNoSource), errors.Is(err, refresh.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.refresher.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
