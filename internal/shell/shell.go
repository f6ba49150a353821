package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/marlapps/marlapps/internal/cache"
	"github.com/marlapps/marlapps/internal/config"
	"github.com/marlapps/marlapps/internal/logging"
	"github.com/marlapps/marlapps/internal/registry"
	"github.com/marlapps/marlapps/internal/store"
	"github.com/marlapps/marlapps/internal/update"
	"github.com/marlapps/marlapps/internal/web"
)

// DefaultSourceURL is the published shell origin used when the config does
// not name one.
const DefaultSourceURL = "https://apps.marlapps.com"

// firstRunTimeout bounds the initial install when no generation exists yet.
const firstRunTimeout = 60 * time.Second

// Shell wires every subsystem together: config, store, registry, cache
// worker, update coordinator, web server, and the watchers.
type Shell struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.Store

	source  cache.Source
	manager *cache.Manager
	index   *registry.Index
	recents *store.RecencyStore
	theme   *ThemeManager
	updates *update.Coordinator
	server  *web.Server

	configWatcher *ConfigWatcher
	osWatcher     *OSThemeWatcher
	cancel        context.CancelFunc
}

// Boot brings the shell up in dependency order. On return the cache worker
// is running, the registry index is built, and the web server is ready to
// Run. Boot succeeds offline as long as a cached generation exists.
func Boot(ctx context.Context) (*Shell, error) {
	cfg, err := config.Load()
	if err != nil {
		// A broken config file falls back to defaults; keep booting.
		logging.Logger().Warn("config load failed, using defaults", "error", err)
	}

	dataDir, err := config.DataDir()
	if err != nil {
		return nil, fmt.Errorf("shell: resolve data dir: %w", err)
	}

	logging.Init(logging.Config{
		LogDir:    dataDir,
		Level:     cfg.Logs.Level,
		MaxSizeMB: cfg.Logs.MaxSizeMB,
	})
	log := logging.ForComponent(logging.CompShell)

	st, err := store.Open(filepath.Join(dataDir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("shell: open store: %w", err)
	}

	sourceURL := cfg.Updates.SourceURL
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}
	source, err := cache.NewHTTPSource(sourceURL)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("shell: %w", err)
	}

	cacheDir, err := config.CacheDir()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("shell: resolve cache dir: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &Shell{
		cfg:     cfg,
		log:     log,
		store:   st,
		source:  source,
		manager: cache.NewManager(cacheDir, source),
		recents: store.NewRecencyStore(st.ShellKV()),
		cancel:  cancel,
	}

	if err := s.manager.Start(runCtx); err != nil {
		s.closePartial()
		return nil, fmt.Errorf("shell: start cache worker: %w", err)
	}

	if s.manager.Current() == nil {
		// First run: nothing cached yet, install and activate a generation
		// before serving anything.
		if err := s.firstInstall(runCtx); err != nil {
			log.Warn("first install failed, continuing degraded", "error", err)
		}
	}

	apps, err := s.loadRegistry(runCtx)
	if err != nil {
		s.closePartial()
		return nil, fmt.Errorf("shell: load registry: %w", err)
	}
	search := config.GetSearchSettings()
	s.index = registry.NewIndex(apps, search.Threshold)

	s.theme = NewThemeManager(st.ShellKV(), config.GetTheme())
	s.updates = update.NewCoordinator(s.manager, source)

	s.server = web.NewServer(web.Config{
		ListenAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		DataDir:    dataDir,
		Cache:      s.manager,
		Index:      s.index,
		Recents:    s.recents,
		Store:      st,
		Updates:    s.updates,
		Theme:      s.theme,
	})

	s.theme.OnChange(s.server.BroadcastThemeChange)
	s.updates.Notify = s.server.BroadcastUpdateState
	s.updates.Reload = func() {
		log.Info("update applied, clients reloading")
	}

	s.startWatchers(runCtx)

	if cfg.Updates.CheckEnabled {
		s.updates.StartAutoCheck(runCtx, update.AutoCheckConfig{
			StartupDelay: time.Duration(cfg.Updates.StartupDelaySeconds) * time.Second,
			Interval:     time.Duration(cfg.Updates.CheckIntervalHours) * time.Hour,
		})
	}

	return s, nil
}

// firstInstall drives the initial CheckSource(activate) and waits for the
// generation to come up.
func (s *Shell) firstInstall(ctx context.Context) error {
	events, unsubscribe := s.manager.Subscribe()
	defer unsubscribe()

	s.manager.CheckSource(true)

	deadline := time.NewTimer(firstRunTimeout)
	defer deadline.Stop()
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case cache.EventActivated:
				s.log.Info("first generation activated", "build", ev.Build)
				return nil
			case cache.EventInstallFailed:
				return fmt.Errorf("install of build %d failed", ev.Build)
			}
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for first generation")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// loadRegistry fetches the registry online, falling back to the cached
// copy so the launcher works offline.
func (s *Shell) loadRegistry(ctx context.Context) ([]registry.AppDescriptor, error) {
	sourceURL := s.cfg.Updates.SourceURL
	if sourceURL == "" {
		sourceURL = DefaultSourceURL
	}

	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	apps, err := registry.NewLoader(sourceURL).Load(loadCtx)
	if err == nil {
		return apps, nil
	}
	s.log.Warn("online registry load failed, trying cache", "error", err)

	return s.loadCachedRegistry(ctx)
}

// loadCachedRegistry rebuilds descriptors from the cached registry
// document and cached manifests.
func (s *Shell) loadCachedRegistry(ctx context.Context) ([]registry.AppDescriptor, error) {
	entry, err := s.manager.Fetch(ctx, registry.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("no cached registry: %w", err)
	}

	var doc registry.Document
	if err := json.Unmarshal(entry.Body, &doc); err != nil {
		return nil, fmt.Errorf("parse cached registry: %w", err)
	}

	var apps []registry.AppDescriptor
	for _, re := range doc.Apps {
		if re.Hidden {
			continue
		}
		manifestPath := fmt.Sprintf("apps/%s/manifest.json", re.Folder)
		mEntry, err := s.manager.Fetch(ctx, manifestPath)
		if err != nil {
			s.log.Warn("skipping app, cached manifest missing", "folder", re.Folder)
			continue
		}
		var m registry.Manifest
		if err := json.Unmarshal(mEntry.Body, &m); err != nil {
			s.log.Warn("skipping app, cached manifest invalid", "folder", re.Folder)
			continue
		}

		order := re.Order
		if order == 0 {
			order = 999
		}
		apps = append(apps, registry.AppDescriptor{
			ID:          m.ID,
			Name:        m.Name,
			ShortName:   m.ShortName,
			Description: m.Description,
			Categories:  m.Categories,
			Entry:       m.Entry,
			Icon:        m.Icon,
			StorageKeys: m.StorageKeys,
			Folder:      re.Folder,
			Pinned:      re.Pinned,
			Order:       order,
		})
	}
	return apps, nil
}

func (s *Shell) startWatchers(ctx context.Context) {
	cw, err := NewConfigWatcher(s.onConfigReload)
	if err != nil {
		s.log.Warn("config watcher unavailable", "error", err)
	} else {
		s.configWatcher = cw
		go cw.Start()
	}

	if osw := NewOSThemeWatcher(ctx); osw != nil {
		s.osWatcher = osw
		go func() {
			for {
				select {
				case isDark, ok := <-osw.ChangeChannel():
					if !ok {
						return
					}
					s.theme.SystemChanged(isDark)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// onConfigReload applies the parts of a config edit that can change at
// runtime: the theme. Server address, cache dir, and log settings need a
// restart.
func (s *Shell) onConfigReload(cfg *config.Config) {
	s.cfg = cfg
	if theme := config.GetTheme(); theme != s.theme.Preference() {
		if err := s.theme.Apply(theme); err != nil {
			s.log.Warn("config theme not applied", "theme", theme, "error", err)
		}
	}
}

// Server exposes the web server, mainly for Run and tests.
func (s *Shell) Server() *web.Server {
	return s.server
}

// Updates exposes the update coordinator.
func (s *Shell) Updates() *update.Coordinator {
	return s.updates
}

// Index exposes the registry index.
func (s *Shell) Index() *registry.Index {
	return s.index
}

// Recents exposes the recency store.
func (s *Shell) Recents() *store.RecencyStore {
	return s.recents
}

// Store exposes the underlying key-value store.
func (s *Shell) Store() *store.Store {
	return s.store
}

// Theme exposes the theme manager.
func (s *Shell) Theme() *ThemeManager {
	return s.theme
}

// Manager exposes the cache worker.
func (s *Shell) Manager() *cache.Manager {
	return s.manager
}

// Run serves until ctx is cancelled, then shuts everything down.
func (s *Shell) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close releases everything Boot acquired. Safe after partial shutdown.
func (s *Shell) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.configWatcher != nil {
		s.configWatcher.Stop()
	}
	if s.osWatcher != nil {
		s.osWatcher.Close()
	}
	s.closePartial()
	logging.Shutdown()
}

func (s *Shell) closePartial() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.Warn("store close failed", "error", err)
		}
		s.store = nil
	}
}
