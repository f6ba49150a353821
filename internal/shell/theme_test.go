package shell

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlapps/marlapps/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestThemeDefaultsToFallback(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeFuturistic)
	assert.Equal(t, ThemeFuturistic, tm.Current())
}

func TestThemeInvalidFallbackBecomesDark(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), "neon")
	assert.Equal(t, ThemeDark, tm.Current())
}

func TestThemeApplyPersistsAcrossManagers(t *testing.T) {
	st := openTestStore(t)

	tm := NewThemeManager(st.ShellKV(), ThemeDark)
	require.NoError(t, tm.Apply(ThemeAmalfi))

	again := NewThemeManager(st.ShellKV(), ThemeDark)
	assert.Equal(t, ThemeAmalfi, again.Current())
}

func TestThemeApplyRejectsUnknown(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)
	assert.Error(t, tm.Apply("hotdog-stand"))
	assert.Equal(t, ThemeDark, tm.Current())
}

func TestThemeApplyFiresChangeHookOnce(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)

	var changes []string
	tm.OnChange(func(resolved string) { changes = append(changes, resolved) })

	require.NoError(t, tm.Apply(ThemeLight))
	require.NoError(t, tm.Apply(ThemeLight)) // repeat is a no-op

	assert.Equal(t, []string{ThemeLight}, changes)
}

func TestThemeToggle(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)

	require.NoError(t, tm.Toggle())
	assert.Equal(t, ThemeLight, tm.Current())

	require.NoError(t, tm.Toggle())
	assert.Equal(t, ThemeDark, tm.Current())
}

func TestThemeSystemResolvesFromOS(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)
	tm.isDark = func() (bool, error) { return false, nil }

	require.NoError(t, tm.Apply(ThemeSystem))
	assert.Equal(t, ThemeSystem, tm.Preference())
	assert.Equal(t, ThemeLight, tm.Current())

	tm.isDark = func() (bool, error) { return true, nil }
	assert.Equal(t, ThemeDark, tm.Current())
}

func TestThemeSystemQueryFailureDefaultsDark(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)
	tm.isDark = func() (bool, error) { return false, assert.AnError }

	require.NoError(t, tm.Apply(ThemeSystem))
	assert.Equal(t, ThemeDark, tm.Current())
}

func TestSystemChangedOnlyMattersForSystemPreference(t *testing.T) {
	st := openTestStore(t)
	tm := NewThemeManager(st.ShellKV(), ThemeDark)
	tm.isDark = func() (bool, error) { return true, nil }

	var changes []string
	tm.OnChange(func(resolved string) { changes = append(changes, resolved) })

	tm.SystemChanged(false)
	assert.Empty(t, changes)

	require.NoError(t, tm.Apply(ThemeSystem))
	tm.SystemChanged(false)
	assert.Equal(t, ThemeLight, changes[len(changes)-1])
}
