package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/marlapps/marlapps/internal/logging"
)

// installConcurrency bounds parallel fetches during an install pass.
const installConcurrency = 8

// State is the worker's lifecycle phase.
type State int

const (
	// StateIdle: steady state, fetches served, no install in flight.
	StateIdle State = iota
	// StateInstalling: a new generation is being populated.
	StateInstalling
	// StateWaiting: a new generation is installed but not yet active.
	StateWaiting
)

// EventType identifies a lifecycle transition broadcast to subscribers.
type EventType string

const (
	EventInstalling    EventType = "installing"
	EventInstalled     EventType = "installed"
	EventInstallFailed EventType = "install-failed"
	EventActivated     EventType = "activated"
)

// Event is one lifecycle transition.
type Event struct {
	Type  EventType
	Build int
}

type getVersionMsg struct{ reply chan int }
type skipWaitingMsg struct{}
type checkSourceMsg struct{ activate bool }
type deleteAllMsg struct{ reply chan error }

// Manager owns the cache generations and the install/activate/fetch
// lifecycle. A single worker goroutine owns all lifecycle state and
// processes messages from the inbox; steady-state fetches run on the
// caller's goroutine against an atomic pointer to the active generation,
// so they need no coordination with the worker.
type Manager struct {
	dir    string
	source Source
	log    *slog.Logger

	current atomic.Pointer[Generation]
	inbox   chan any
	done    chan struct{}

	// Worker-owned; never touched outside the worker goroutine.
	state   State
	waiting *Generation

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewManager creates a manager over cacheDir, updating from source.
func NewManager(cacheDir string, source Source) *Manager {
	return &Manager{
		dir:    cacheDir,
		source: source,
		log:    logging.ForComponent(logging.CompCache),
		inbox:  make(chan any, 16),
		done:   make(chan struct{}),
		subs:   make(map[int]chan Event),
	}
}

// Start loads any existing generations, promotes the newest to current,
// and launches the worker. Older leftover generations are destroyed so
// the single-generation invariant holds from the first request on.
func (m *Manager) Start(ctx context.Context) error {
	builds, err := ListGenerations(m.dir)
	if err != nil {
		return err
	}
	if len(builds) > 0 {
		newest := builds[len(builds)-1]
		gen, err := OpenGeneration(m.dir, newest)
		if err != nil {
			return err
		}
		m.current.Store(gen)
		for _, b := range builds[:len(builds)-1] {
			old, err := OpenGeneration(m.dir, b)
			if err != nil {
				continue
			}
			if err := old.Destroy(); err != nil {
				m.log.Warn("stale generation cleanup failed", "build", b, "error", err)
			}
		}
		m.log.Info("serving cached generation", "build", newest, "entries", gen.Len())
	}

	go m.run(ctx)
	return nil
}

// Done is closed when the worker goroutine exits.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Current returns the active generation, or nil before first install.
func (m *Manager) Current() *Generation {
	return m.current.Load()
}

// Subscribe registers for lifecycle events. The returned cancel func must
// be called to release the subscription. Slow subscribers drop events.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, id)
		m.subMu.Unlock()
	}
}

// VersionRoundTrip asks the worker what build it is serving. Returns nil
// without error when no generation is active or the worker does not answer
// before ctx expires; the caller treats nil as "unknown", not a failure.
func (m *Manager) VersionRoundTrip(ctx context.Context) (*int, error) {
	msg := getVersionMsg{reply: make(chan int, 1)}
	select {
	case m.inbox <- msg:
	case <-ctx.Done():
		return nil, nil
	case <-m.done:
		return nil, nil
	}

	select {
	case v := <-msg.reply:
		if v < 0 {
			return nil, nil
		}
		return &v, nil
	case <-ctx.Done():
		return nil, nil
	case <-m.done:
		return nil, nil
	}
}

// SkipWaiting directs a waiting generation to activate immediately.
func (m *Manager) SkipWaiting() {
	select {
	case m.inbox <- skipWaitingMsg{}:
	case <-m.done:
	}
}

// CheckSource makes the worker re-check the source for a newer build and
// install it. With activate set, a successful install is promoted
// immediately instead of waiting for SkipWaiting.
func (m *Manager) CheckSource(activate bool) {
	select {
	case m.inbox <- checkSourceMsg{activate: activate}:
	case <-m.done:
	}
}

// DeleteAllGenerations is the degraded recovery path: every generation is
// destroyed by name and nothing serves until the next install pass.
func (m *Manager) DeleteAllGenerations(ctx context.Context) error {
	msg := deleteAllMsg{reply: make(chan error, 1)}
	select {
	case m.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return fmt.Errorf("cache: worker stopped")
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch satisfies one intercepted resource request: cache-first by exact
// URL with no revalidation, then network with opportunistic caching of
// successful same-origin responses, then the cached root document as the
// universal offline fallback.
func (m *Manager) Fetch(ctx context.Context, resource string) (*Entry, error) {
	gen := m.current.Load()
	if gen != nil {
		if e, ok, err := gen.Get(resource); err == nil && ok {
			return e, nil
		} else if err != nil {
			m.log.Warn("cache read failed, falling through to network",
				"resource", resource, "error", err)
		}
	}

	e, cacheable, err := m.source.Fetch(ctx, resource)
	if err == nil {
		if cacheable && gen != nil {
			if putErr := gen.Put(e); putErr != nil {
				m.log.Warn("opportunistic cache write failed",
					"resource", resource, "error", putErr)
			}
		}
		return e, nil
	}

	if gen != nil {
		if root, ok, rootErr := gen.Get(RootDocument); rootErr == nil && ok {
			m.log.Debug("network fetch failed, serving cached root document",
				"resource", resource)
			return root, nil
		}
	}
	return nil, err
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-m.inbox:
			switch msg := raw.(type) {
			case getVersionMsg:
				if gen := m.current.Load(); gen != nil {
					msg.reply <- gen.Build()
				} else {
					msg.reply <- -1
				}
			case skipWaitingMsg:
				if m.waiting != nil {
					m.activate(m.waiting)
				}
			case checkSourceMsg:
				m.handleCheckSource(ctx, msg.activate)
			case deleteAllMsg:
				msg.reply <- m.deleteAll()
			}
		}
	}
}

func (m *Manager) handleCheckSource(ctx context.Context, activate bool) {
	desc, err := m.source.LatestVersion(ctx)
	if err != nil {
		m.log.Warn("source version check failed", "error", err)
		m.emit(Event{Type: EventInstallFailed})
		return
	}

	cur := m.current.Load()
	if cur != nil && desc.Version <= cur.Build() {
		m.log.Info("source not newer, nothing to install",
			"remote", desc.Version, "serving", cur.Build())
		return
	}
	if m.waiting != nil && m.waiting.Build() >= desc.Version {
		// Already installed and waiting.
		if activate {
			m.activate(m.waiting)
		}
		return
	}

	m.install(ctx, desc.Version, activate)
}

// install populates a fresh generation with every manifest resource,
// all-or-nothing. A single failed fetch aborts the install and removes the
// partial generation; whatever was serving before keeps serving.
func (m *Manager) install(ctx context.Context, build int, activate bool) {
	m.state = StateInstalling
	m.emit(Event{Type: EventInstalling, Build: build})
	m.log.Info("installing generation", "build", build)

	urls, err := m.source.ManifestURLs(ctx)
	if err != nil {
		m.failInstall(build, nil, err)
		return
	}

	gen, err := NewGeneration(m.dir, build)
	if err != nil {
		m.failInstall(build, nil, err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for _, u := range urls {
		g.Go(func() error {
			e, cacheable, err := m.source.Fetch(gctx, u)
			if err != nil {
				return err
			}
			if !cacheable {
				return fmt.Errorf("cache: install fetch %s: status %d not cacheable", u, e.Status)
			}
			return gen.Put(e)
		})
	}
	if err := g.Wait(); err != nil {
		m.failInstall(build, gen, err)
		return
	}

	m.state = StateWaiting
	m.waiting = gen
	m.emit(Event{Type: EventInstalled, Build: build})
	m.log.Info("generation installed", "build", build, "entries", gen.Len())

	if activate {
		m.activate(gen)
	}
}

func (m *Manager) failInstall(build int, gen *Generation, err error) {
	m.log.Error("install failed", "build", build, "error", err)
	if gen != nil {
		if derr := gen.Destroy(); derr != nil {
			m.log.Warn("partial generation cleanup failed", "build", build, "error", derr)
		}
	}
	m.state = StateIdle
	m.emit(Event{Type: EventInstallFailed, Build: build})
}

// activate deletes every generation other than gen, then claims all
// clients by switching the serving pointer.
func (m *Manager) activate(gen *Generation) {
	builds, err := ListGenerations(m.dir)
	if err != nil {
		m.log.Warn("generation listing failed during activate", "error", err)
	}
	for _, b := range builds {
		if b == gen.Build() {
			continue
		}
		old, err := OpenGeneration(m.dir, b)
		if err != nil {
			continue
		}
		if err := old.Destroy(); err != nil {
			m.log.Warn("old generation cleanup failed", "build", b, "error", err)
		}
	}

	m.current.Store(gen)
	m.waiting = nil
	m.state = StateIdle
	m.emit(Event{Type: EventActivated, Build: gen.Build()})
	m.log.Info("generation activated", "build", gen.Build())
}

func (m *Manager) deleteAll() error {
	m.current.Store(nil)
	m.waiting = nil
	m.state = StateIdle

	builds, err := ListGenerations(m.dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, b := range builds {
		gen, err := OpenGeneration(m.dir, b)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := gen.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.log.Warn("all cache generations deleted", "count", len(builds))
	return firstErr
}

func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
