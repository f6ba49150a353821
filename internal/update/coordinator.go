package update

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marlapps/marlapps/internal/cache"
	"github.com/marlapps/marlapps/internal/logging"
)

// Round trip and install wait bounds. Any expiry routes to the degraded
// recovery path instead of leaving the UI stuck.
const (
	versionTimeout       = 2 * time.Second
	installStartTimeout  = 15 * time.Second
	installFinishTimeout = 30 * time.Second
	activateTimeout      = 10 * time.Second
)

// Status is the coordinator's phase. A reload resets it to StatusUnknown
// on the next boot.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusChecking    Status = "checking"
	StatusUpToDate    Status = "up_to_date"
	StatusAvailable   Status = "available"
	StatusCheckFailed Status = "check_failed"
	StatusInstalling  Status = "installing"
	StatusActivating  Status = "activating"
	StatusFailed      Status = "failed"
	StatusReloading   Status = "reloading"
)

// CheckResult is the outcome of one update check. A nil Installed means
// the serving build could not be determined, which is distinct from both
// "up to date" and "update available".
type CheckResult struct {
	UpdateAvailable bool `json:"updateAvailable"`
	RemoteVersion   int  `json:"remoteVersion,omitempty"`
	Installed       *int `json:"installed"`
}

// Coordinator compares the serving build against the published one and
// drives generational cutover through the cache worker.
type Coordinator struct {
	mgr    *cache.Manager
	source cache.Source
	log    *slog.Logger

	// Reload is invoked exactly once per install sequence, success or
	// degraded. In the web shell it tells every client to reload.
	Reload func()

	// Notify surfaces non-blocking update events (websocket, web push).
	Notify func(status Status, result *CheckResult)

	mu     sync.Mutex
	status Status
}

// NewCoordinator creates a coordinator over the cache manager and source.
func NewCoordinator(mgr *cache.Manager, source cache.Source) *Coordinator {
	return &Coordinator{
		mgr:    mgr,
		source: source,
		log:    logging.ForComponent(logging.CompUpdate),
		status: StatusUnknown,
	}
}

// Status returns the current coordinator phase.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) setStatus(s Status, result *CheckResult) {
	c.mu.Lock()
	c.status = s
	notify := c.Notify
	c.mu.Unlock()

	if notify != nil {
		notify(s, result)
	}
}

// GetInstalledVersion asks the cache worker what build it serves, bounded
// by a 2 second round trip. nil means unknown, which is a valid state and
// never an error.
func (c *Coordinator) GetInstalledVersion(ctx context.Context) *int {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	v, _ := c.mgr.VersionRoundTrip(ctx)
	return v
}

// CheckForUpdates fetches the published version descriptor with cache
// bypass and compares it to the serving build. Network failure is a soft
// CheckFailed status, not an error that mutates anything else. announce
// controls whether an available update raises the install notification.
func (c *Coordinator) CheckForUpdates(ctx context.Context, announce bool) (*CheckResult, error) {
	c.setStatus(StatusChecking, nil)

	installed := c.GetInstalledVersion(ctx)
	if installed == nil {
		c.log.Info("serving build unknown, skipping version comparison")
		c.setStatus(StatusUnknown, &CheckResult{})
		return &CheckResult{}, nil
	}

	desc, err := c.source.LatestVersion(ctx)
	if err != nil {
		c.log.Warn("update check failed", "error", err)
		c.setStatus(StatusCheckFailed, nil)
		return nil, fmt.Errorf("update: check: %w", err)
	}

	result := &CheckResult{
		RemoteVersion: desc.Version,
		Installed:     installed,
	}
	if desc.Version > *installed {
		result.UpdateAvailable = true
		c.log.Info("update available",
			"installed", *installed, "remote", desc.Version, "announce", announce)
		c.setStatus(StatusAvailable, result)
		return result, nil
	}

	c.log.Info("up to date", "installed", *installed, "remote", desc.Version)
	c.setStatus(StatusUpToDate, result)
	return result, nil
}

// InstallUpdate drives the cutover: ask the worker to re-check its source,
// wait for the new generation to install, direct it to skip waiting, and
// reload once the controlling generation changes. Any timeout or failure
// takes the degraded path: delete every cache generation and reload so the
// next boot rebuilds from scratch.
func (c *Coordinator) InstallUpdate(ctx context.Context) error {
	events, cancel := c.mgr.Subscribe()
	defer cancel()

	var reloadOnce sync.Once
	reload := func() {
		reloadOnce.Do(func() {
			c.setStatus(StatusReloading, nil)
			if c.Reload != nil {
				c.Reload()
			}
		})
	}

	c.setStatus(StatusInstalling, nil)
	c.mgr.CheckSource(false)

	if err := waitForEvent(ctx, events, cache.EventInstalling, installStartTimeout); err != nil {
		return c.degrade(ctx, reload, fmt.Errorf("update: waiting for install start: %w", err))
	}
	if err := waitForEvent(ctx, events, cache.EventInstalled, installFinishTimeout); err != nil {
		return c.degrade(ctx, reload, fmt.Errorf("update: waiting for install: %w", err))
	}

	c.setStatus(StatusActivating, nil)
	c.mgr.SkipWaiting()

	if err := waitForEvent(ctx, events, cache.EventActivated, activateTimeout); err != nil {
		return c.degrade(ctx, reload, fmt.Errorf("update: waiting for activation: %w", err))
	}

	c.log.Info("update installed and activated")
	reload()
	return nil
}

// degrade is the recovery path for a stuck or failed install: wipe every
// generation by name and reload, relying on the next install pass to
// rebuild the cache.
func (c *Coordinator) degrade(ctx context.Context, reload func(), cause error) error {
	c.log.Error("update failed, taking degraded recovery path", "error", cause)
	c.setStatus(StatusFailed, nil)

	if err := c.mgr.DeleteAllGenerations(ctx); err != nil {
		c.log.Error("degraded cache wipe failed", "error", err)
	}

	reload()
	return cause
}

// waitForEvent consumes events until want arrives. An install failure,
// context cancellation, or the timeout all abort.
func waitForEvent(ctx context.Context, events <-chan cache.Event, want cache.EventType, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return nil
			}
			if ev.Type == cache.EventInstallFailed {
				return fmt.Errorf("install failed for build %d", ev.Build)
			}
		case <-deadline.C:
			return fmt.Errorf("timed out after %s", timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
