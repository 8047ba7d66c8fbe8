package shared

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Preference keys persisted in the local config file. The credential may come
// from the environment instead; the environment wins, matching the admin
// console behavior of the web client.
const (
	PrefKeyAPIKey    = "api_key"
	PrefKeyLiveModel = "live_model"
	PrefKeyChatModel = "chat_model"
	PrefKeyVoice     = "voice"
	PrefKeyOutputDir = "output_dir"
)

const (
	DefaultLiveModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultChatModel = "gemini-2.5-flash"
	DefaultVoice     = "Aoede"
)

// Preferences holds everything read from the local key-value store at
// client-construction time. It is not watched for live changes; a running
// session keeps the values it started with.
type Preferences struct {
	APIKey    string
	LiveModel string
	ChatModel string
	Voice     string
	OutputDir string
}

// LoadPreferences reads the config file at path (YAML, optional) plus the
// GEMINI_API_KEY environment variable. A missing file is not an error; a
// missing credential is reported by the transport, not here.
func LoadPreferences(path string) (*Preferences, error) {
	v := viper.New()
	v.SetDefault(PrefKeyLiveModel, DefaultLiveModel)
	v.SetDefault(PrefKeyChatModel, DefaultChatModel)
	v.SetDefault(PrefKeyVoice, DefaultVoice)
	v.SetDefault(PrefKeyOutputDir, ".")
	v.BindEnv(PrefKeyAPIKey, "GEMINI_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading preferences %q: %w", path, err)
			}
		}
	}

	return &Preferences{
		APIKey:    strings.TrimSpace(v.GetString(PrefKeyAPIKey)),
		LiveModel: v.GetString(PrefKeyLiveModel),
		ChatModel: v.GetString(PrefKeyChatModel),
		Voice:     v.GetString(PrefKeyVoice),
		OutputDir: v.GetString(PrefKeyOutputDir),
	}, nil
}
