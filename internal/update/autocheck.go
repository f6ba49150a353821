package update

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// AutoCheckConfig controls the background update checker.
type AutoCheckConfig struct {
	// StartupDelay postpones the first check so it does not compete with
	// initial load.
	StartupDelay time.Duration

	// Interval between periodic re-checks.
	Interval time.Duration
}

// StartAutoCheck runs background update checks until ctx is cancelled.
// The first check happens after StartupDelay; later checks tick at
// Interval, rate limited so external triggers cannot stampede the source.
// Found updates surface through the coordinator's Notify hook as a
// non-blocking notification; nothing installs automatically.
func (c *Coordinator) StartAutoCheck(ctx context.Context, cfg AutoCheckConfig) {
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = 5 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}

	limiter := rate.NewLimiter(rate.Every(cfg.Interval/2), 1)

	go func() {
		select {
		case <-time.After(cfg.StartupDelay):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		for {
			if limiter.Allow() {
				if _, err := c.CheckForUpdates(ctx, false); err != nil {
					c.log.Debug("background update check failed", "error", err)
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}
