package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const vapidKeysFileName = "web_push_vapid_keys.json"

type vapidKeysFile struct {
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	Subject    string    `json:"subject,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ensureVAPIDKeys returns the persisted VAPID keypair under dataDir,
// generating and saving one on first use.
func ensureVAPIDKeys(dataDir, subject string) (publicKey, privateKey string, err error) {
	keysPath := filepath.Join(dataDir, vapidKeysFileName)
	subject = strings.TrimSpace(subject)

	if file, loadErr := loadVAPIDKeysFile(keysPath); loadErr == nil {
		if subject != "" && strings.TrimSpace(file.Subject) != subject {
			file.Subject = subject
			file.UpdatedAt = time.Now().UTC()
			if writeErr := writeVAPIDKeysFile(keysPath, file); writeErr != nil {
				return "", "", writeErr
			}
		}
		return file.PublicKey, file.PrivateKey, nil
	} else if !errors.Is(loadErr, os.ErrNotExist) {
		return "", "", loadErr
	}

	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("web: generate vapid keypair: %w", err)
	}

	now := time.Now().UTC()
	file := &vapidKeysFile{
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: strings.TrimSpace(privateKey),
		Subject:    subject,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := writeVAPIDKeysFile(keysPath, file); err != nil {
		return "", "", err
	}
	return file.PublicKey, file.PrivateKey, nil
}

func loadVAPIDKeysFile(path string) (*vapidKeysFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("web: read vapid keys: %w", err)
	}
	var file vapidKeysFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("web: parse vapid keys: %w", err)
	}
	if file.PublicKey == "" || file.PrivateKey == "" {
		return nil, fmt.Errorf("web: vapid keys file incomplete")
	}
	return &file, nil
}

func writeVAPIDKeysFile(path string, file *vapidKeysFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("web: create data dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("web: encode vapid keys: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("web: write vapid keys: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("web: finalize vapid keys: %w", err)
	}
	return nil
}
