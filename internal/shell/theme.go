package shell

import (
	"encoding/json"
	"fmt"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/marlapps/marlapps/internal/store"
)

// Available shell themes. ThemeSystem is a preference, not a palette: it
// resolves to dark or light from the OS setting at read time.
const (
	ThemeDark       = "dark"
	ThemeLight      = "light"
	ThemeFuturistic = "futuristic"
	ThemeAmalfi     = "amalfi"
	ThemeSystem     = "system"
)

// themeKey lives in the shell KV namespace, so the stored key is
// store.KeyTheme.
const themeKey = "theme"

// ThemeManager owns the shell theme preference. The preference persists in
// the shell namespace of the store; every applied change fans out through
// the onChange hook so all open shell contexts stay consistent.
type ThemeManager struct {
	kv       store.KV
	fallback string

	mu   sync.Mutex
	pref string

	onChange func(resolved string)

	// isDark resolves the OS preference; swapped in tests.
	isDark func() (bool, error)
}

// NewThemeManager loads the persisted preference, falling back to the
// configured default when nothing is stored or the stored value is invalid.
func NewThemeManager(kv store.KV, fallback string) *ThemeManager {
	if !validTheme(fallback) {
		fallback = ThemeDark
	}

	tm := &ThemeManager{
		kv:       kv,
		fallback: fallback,
		pref:     fallback,
		isDark:   dark.IsDarkMode,
	}

	var stored string
	if raw, ok, err := kv.Get(themeKey); err == nil && ok {
		if json.Unmarshal(raw, &stored) == nil && validTheme(stored) {
			tm.pref = stored
		}
	}
	return tm
}

func validTheme(theme string) bool {
	switch theme {
	case ThemeDark, ThemeLight, ThemeFuturistic, ThemeAmalfi, ThemeSystem:
		return true
	}
	return false
}

// OnChange registers the hook invoked with the resolved theme after every
// effective change. Must be set before concurrent use.
func (tm *ThemeManager) OnChange(fn func(resolved string)) {
	tm.onChange = fn
}

// Preference returns the stored preference, which may be "system".
func (tm *ThemeManager) Preference() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.pref
}

// Current returns the resolved theme. "system" resolves against the OS
// setting, defaulting to dark when the OS cannot be queried.
func (tm *ThemeManager) Current() string {
	tm.mu.Lock()
	pref := tm.pref
	tm.mu.Unlock()
	return tm.resolve(pref)
}

func (tm *ThemeManager) resolve(pref string) string {
	if pref != ThemeSystem {
		return pref
	}
	isDark, err := tm.isDark()
	if err != nil || isDark {
		return ThemeDark
	}
	return ThemeLight
}

// Apply sets and persists the preference. Applying the current preference
// again is a no-op; the change hook fires only when the resolved theme
// actually changes.
func (tm *ThemeManager) Apply(theme string) error {
	if !validTheme(theme) {
		return fmt.Errorf("shell: unknown theme %q", theme)
	}

	tm.mu.Lock()
	if theme == tm.pref {
		tm.mu.Unlock()
		return nil
	}
	before := tm.resolve(tm.pref)
	tm.pref = theme
	tm.mu.Unlock()

	data, _ := json.Marshal(theme)
	if err := tm.kv.Put(themeKey, data); err != nil {
		return fmt.Errorf("shell: persist theme: %w", err)
	}

	if after := tm.resolve(theme); after != before && tm.onChange != nil {
		tm.onChange(after)
	}
	return nil
}

// Reset restores the configured default theme.
func (tm *ThemeManager) Reset() error {
	return tm.Apply(tm.fallback)
}

// Toggle flips between dark and light. From any other theme it applies the
// opposite of the currently resolved palette.
func (tm *ThemeManager) Toggle() error {
	if tm.Current() == ThemeDark {
		return tm.Apply(ThemeLight)
	}
	return tm.Apply(ThemeDark)
}

// SystemChanged is called by the OS watcher when dark mode flips. It only
// matters while the preference is "system"; the resolved theme changes
// without touching the stored preference.
func (tm *ThemeManager) SystemChanged(isDark bool) {
	tm.mu.Lock()
	pref := tm.pref
	tm.mu.Unlock()
	if pref != ThemeSystem || tm.onChange == nil {
		return
	}
	if isDark {
		tm.onChange(ThemeDark)
	} else {
		tm.onChange(ThemeLight)
	}
}
