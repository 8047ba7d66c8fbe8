package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePrefs(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPreferencesDefaults(t *testing.T) {
	prefs, err := LoadPreferences("")
	require.NoError(t, err)

	assert.Equal(t, DefaultLiveModel, prefs.LiveModel)
	assert.Equal(t, DefaultChatModel, prefs.ChatModel)
	assert.Equal(t, DefaultVoice, prefs.Voice)
	assert.Equal(t, ".", prefs.OutputDir)
}

func TestLoadPreferencesFromFile(t *testing.T) {
	path := writePrefs(t, `
api_key: file-key
live_model: custom-live
voice: Puck
output_dir: /tmp/clips
`)

	prefs, err := LoadPreferences(path)
	require.NoError(t, err)

	assert.Equal(t, "file-key", prefs.APIKey)
	assert.Equal(t, "custom-live", prefs.LiveModel)
	assert.Equal(t, DefaultChatModel, prefs.ChatModel)
	assert.Equal(t, "Puck", prefs.Voice)
	assert.Equal(t, "/tmp/clips", prefs.OutputDir)
}

func TestLoadPreferencesEnvironmentWins(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	path := writePrefs(t, "api_key: file-key\n")

	prefs, err := LoadPreferences(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", prefs.APIKey)
}

func TestLoadPreferencesMissingFileTolerated(t *testing.T) {
	prefs, err := LoadPreferences(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultVoice, prefs.Voice)
}

func TestLoadPreferencesMalformedFile(t *testing.T) {
	path := writePrefs(t, "api_key: [unterminated\n")

	_, err := LoadPreferences(path)
	assert.Error(t, err)
}

func TestLoadPreferencesTrimsKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "  padded-key \n")

	prefs, err := LoadPreferences("")
	require.NoError(t, err)
	assert.Equal(t, "padded-key", prefs.APIKey)
}
