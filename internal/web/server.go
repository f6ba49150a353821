package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/marlapps/marlapps/internal/cache"
	"github.com/marlapps/marlapps/internal/logging"
	"github.com/marlapps/marlapps/internal/registry"
	"github.com/marlapps/marlapps/internal/store"
	"github.com/marlapps/marlapps/internal/update"
)

// ThemeController is the shell's theme surface as the web layer sees it.
type ThemeController interface {
	Current() string
	Apply(theme string) error
	Reset() error
}

// Config defines runtime options and collaborators for the web server.
type Config struct {
	ListenAddr string
	DataDir    string

	Cache   *cache.Manager
	Index   *registry.Index
	Recents *store.RecencyStore
	Store   *store.Store
	Updates *update.Coordinator
	Theme   ThemeController

	PushVAPIDSubject string
}

// Server fronts the cache worker for every shell resource request and
// exposes the shell API: search, recents, data management, updates, theme
// events over websocket, and web push.
type Server struct {
	cfg        Config
	log        *slog.Logger
	httpServer *http.Server
	baseCtx    context.Context
	cancelBase context.CancelFunc

	hub     *hub
	push    *pushService
	imports *pendingImports
}

// NewServer creates the server with base routes and middleware.
func NewServer(cfg Config) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:8420"
	}

	s := &Server{
		cfg:     cfg,
		log:     logging.ForComponent(logging.CompWeb),
		hub:     newHub(),
		imports: newPendingImports(),
	}
	s.baseCtx, s.cancelBase = context.WithCancel(context.Background())

	if push, err := newPushService(cfg.DataDir, cfg.PushVAPIDSubject); err != nil {
		s.log.Warn("push disabled", slog.String("error", err.Error()))
	} else {
		s.push = push
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/apps", s.handleApps)
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.HandleFunc("/api/recents", s.handleRecents)
	mux.HandleFunc("/api/open", s.handleOpen)
	mux.HandleFunc("/api/theme", s.handleTheme)
	mux.HandleFunc("/api/data/export", s.handleDataExport)
	mux.HandleFunc("/api/data/import", s.handleDataImport)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/update/check", s.handleUpdateCheck)
	mux.HandleFunc("/api/update/install", s.handleUpdateInstall)
	mux.HandleFunc("/api/push/config", s.handlePushConfig)
	mux.HandleFunc("/api/push/subscribe", s.handlePushSubscribe)
	mux.HandleFunc("/api/push/unsubscribe", s.handlePushUnsubscribe)
	mux.HandleFunc("/ws/shell", s.handleShellWS)

	// Everything else is a shell resource request and goes through the
	// cache worker.
	mux.HandleFunc("/", s.handleResource)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           withRecover(mux),
		BaseContext:       func(_ net.Listener) context.Context { return s.baseCtx },
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the configured HTTP handler (used by tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown or error.
// Returns nil on graceful shutdown.
func (s *Server) Start() error {
	s.log.Info("web server listening", "addr", s.cfg.ListenAddr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBase != nil {
		// Signal long-lived websocket handlers to stop promptly.
		s.cancelBase()
	}
	s.hub.closeAll()

	err := s.httpServer.Shutdown(ctx)
	if err == nil {
		return nil
	}

	// Lingering connections can block graceful shutdown. Force close as a
	// fallback so Ctrl+C exits promptly.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("graceful shutdown timed out and force close failed: %w", closeErr)
		}
		return nil
	}
	return err
}

// BroadcastThemeChange delivers a theme-change event to every connected
// shell context. Safe to call from any goroutine; apps apply it
// idempotently.
func (s *Server) BroadcastThemeChange(theme string) {
	s.hub.broadcast(shellEvent{Type: "theme-change", Theme: theme})
}

// BroadcastUpdateState pushes a coordinator transition to every connected
// client and, for newly available updates, to push subscribers.
func (s *Server) BroadcastUpdateState(status update.Status, result *update.CheckResult) {
	ev := shellEvent{Type: "update-state", Status: string(status)}
	if result != nil {
		ev.Update = result
	}
	s.hub.broadcast(ev)

	if status == update.StatusAvailable && result != nil && s.push != nil {
		s.push.SendUpdateAvailable(s.baseCtx, result.RemoteVersion)
	}
}

// handleResource serves one intercepted shell resource from the cache
// worker: cache-first, network fallback, cached root document when offline.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	resource := strings.TrimPrefix(r.URL.Path, "/")
	if resource == "" {
		resource = cache.RootDocument
	}

	entry, err := s.cfg.Cache.Fetch(r.Context(), resource)
	if err != nil {
		s.log.Debug("resource unavailable", "resource", resource, "error", err)
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "resource unavailable")
		return
	}

	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.WriteHeader(entry.Status)
	if r.Method == http.MethodGet {
		_, _ = w.Write(entry.Body)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	}
	if gen := s.cfg.Cache.Current(); gen != nil {
		resp["build"] = gen.Build()
	}
	writeJSON(w, http.StatusOK, resp)
}

// appView is the API projection of a descriptor, with derived URLs.
type appView struct {
	registry.AppDescriptor
	EntryURL string `json:"entryUrl"`
	IconURL  string `json:"iconUrl"`
}

func toAppView(app registry.AppDescriptor) appView {
	return appView{
		AppDescriptor: app,
		EntryURL:      registry.EntryURL(&app),
		IconURL:       registry.IconURL(&app),
	}
}

func withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.ForComponent(logging.CompWeb).Error("panic",
					slog.String("recover", fmt.Sprintf("%v", rec)),
					slog.String("path", r.URL.Path))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]apiError{"error": {Code: code, Message: message}})
}
