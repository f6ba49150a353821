package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/marlapps/marlapps/internal/logging"
)

const pushSubscriptionsFileName = "web_push_subscriptions.json"

type pushSubscription struct {
	Endpoint  string               `json:"endpoint"`
	Keys      pushSubscriptionKeys `json:"keys"`
	CreatedAt time.Time            `json:"createdAt,omitempty"`
}

type pushSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s pushSubscription) normalize() pushSubscription {
	s.Endpoint = strings.TrimSpace(s.Endpoint)
	s.Keys.P256dh = strings.TrimSpace(s.Keys.P256dh)
	s.Keys.Auth = strings.TrimSpace(s.Keys.Auth)
	return s
}

func (s pushSubscription) validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("web: push subscription missing endpoint")
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return fmt.Errorf("web: push subscription missing keys")
	}
	return nil
}

// pushService sends "update available" notifications to subscribed
// clients. Subscriptions persist in a JSON file under the data dir.
type pushService struct {
	subject    string
	publicKey  string
	privateKey string
	path       string

	mu   sync.Mutex
	subs []pushSubscription
}

func newPushService(dataDir, subject string) (*pushService, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("web: push needs a data dir")
	}
	publicKey, privateKey, err := ensureVAPIDKeys(dataDir, subject)
	if err != nil {
		return nil, err
	}

	p := &pushService{
		subject:    subject,
		publicKey:  publicKey,
		privateKey: privateKey,
		path:       filepath.Join(dataDir, pushSubscriptionsFileName),
	}
	p.load()
	return p, nil
}

func (p *pushService) PublicKey() string {
	return p.publicKey
}

func (p *pushService) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *pushService) Upsert(sub pushSubscription) error {
	sub = sub.normalize()
	if err := sub.validate(); err != nil {
		return err
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	replaced := false
	for i := range p.subs {
		if p.subs[i].Endpoint == sub.Endpoint {
			p.subs[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		p.subs = append(p.subs, sub)
	}
	return p.persistLocked()
}

func (p *pushService) RemoveByEndpoint(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.subs[:0]
	for _, sub := range p.subs {
		if sub.Endpoint != endpoint {
			kept = append(kept, sub)
		}
	}
	p.subs = kept
	return p.persistLocked()
}

// SendUpdateAvailable notifies every subscriber that a newer build can be
// installed. Gone subscriptions are pruned; other send failures only log.
func (p *pushService) SendUpdateAvailable(ctx context.Context, remoteVersion int) {
	payload, _ := json.Marshal(map[string]any{
		"title":   "MarlApps update available",
		"body":    fmt.Sprintf("Build %d is ready to install from settings.", remoteVersion),
		"type":    "update-available",
		"version": remoteVersion,
	})

	p.mu.Lock()
	subs := make([]pushSubscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	log := logging.ForComponent(logging.CompWeb)
	for _, sub := range subs {
		resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}, &webpush.Options{
			Subscriber:      p.subject,
			VAPIDPublicKey:  p.publicKey,
			VAPIDPrivateKey: p.privateKey,
			TTL:             3600,
		})
		if err != nil {
			log.Warn("push send failed", "error", err)
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()
		if status == http.StatusGone || status == http.StatusNotFound {
			_ = p.RemoveByEndpoint(sub.Endpoint)
		}
	}
}

func (p *pushService) load() {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return
	}
	var subs []pushSubscription
	if err := json.Unmarshal(raw, &subs); err != nil {
		// Corrupt file resets to empty.
		return
	}
	p.subs = subs
}

func (p *pushService) persistLocked() error {
	data, err := json.MarshalIndent(p.subs, "", "  ")
	if err != nil {
		return fmt.Errorf("web: encode subscriptions: %w", err)
	}
	tmpPath := p.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("web: write subscriptions: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("web: finalize subscriptions: %w", err)
	}
	return nil
}
