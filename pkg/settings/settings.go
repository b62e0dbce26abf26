package settings

import (
	"os"
	"path/filepath"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIKey = errors.New("missing api key (set --api-key or NOSUB_API_KEY)")

// Keys shared by flags, environment variables and the config file.
const (
	KeyAPIKey           = "api-key"
	KeyBaseURL          = "base-url"
	KeyTimeout          = "timeout"
	KeyOrganization     = "organization"
	KeyModel            = "model"
	KeySystem           = "system"
	KeySnapshotInterval = "snapshot-interval"
	KeyDeltaPath        = "delta-path"
	KeyExportDir        = "export-dir"
	KeyExportTemplate   = "export-template"
)

type Settings struct {
	Client *ClientSettings `yaml:"client"`
	Chat   *ChatSettings   `yaml:"chat"`
}

func NewSettings() *Settings {
	return &Settings{
		Client: NewClientSettings(),
		Chat:   NewChatSettings(),
	}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// FromViper overlays every key set in v onto the defaults.
func FromViper(v *viper.Viper) (*Settings, error) {
	ret := NewSettings()

	if v.IsSet(KeyAPIKey) {
		ret.Client.APIKey = v.GetString(KeyAPIKey)
	}
	if v.IsSet(KeyBaseURL) && v.GetString(KeyBaseURL) != "" {
		ret.Client.BaseURL = v.GetString(KeyBaseURL)
	}
	if v.IsSet(KeyTimeout) {
		d := v.GetDuration(KeyTimeout)
		if d <= 0 {
			return nil, errors.Errorf("invalid %s: %s", KeyTimeout, v.GetString(KeyTimeout))
		}
		ret.Client.SetTimeout(d)
	}
	if v.IsSet(KeyOrganization) && v.GetString(KeyOrganization) != "" {
		org := v.GetString(KeyOrganization)
		ret.Client.Organization = &org
	}

	if v.IsSet(KeyModel) && v.GetString(KeyModel) != "" {
		model := v.GetString(KeyModel)
		ret.Chat.Model = &model
	}
	if v.IsSet(KeySystem) {
		ret.Chat.SystemPrompt = v.GetString(KeySystem)
	}
	if v.IsSet(KeySnapshotInterval) {
		d := v.GetDuration(KeySnapshotInterval)
		if d <= 0 {
			return nil, errors.Errorf("invalid %s: %s", KeySnapshotInterval, v.GetString(KeySnapshotInterval))
		}
		ret.Chat.SnapshotInterval = d
	}
	if v.IsSet(KeyDeltaPath) && v.GetString(KeyDeltaPath) != "" {
		ret.Chat.DeltaPath = v.GetString(KeyDeltaPath)
	}
	if v.IsSet(KeyExportDir) {
		ret.Chat.ExportDir = v.GetString(KeyExportDir)
	}
	if v.IsSet(KeyExportTemplate) && v.GetString(KeyExportTemplate) != "" {
		ret.Chat.ExportTemplate = v.GetString(KeyExportTemplate)
	}

	if ret.Chat.ExportDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "."
		}
		ret.Chat.ExportDir = filepath.Join(homeDir, ".nosub", "transcripts")
	}

	return ret, nil
}

// Validate checks what is needed to talk to the provider.
func (s *Settings) Validate() error {
	if s.Client.APIKey == "" {
		return ErrMissingAPIKey
	}
	if s.Client.BaseURL == "" {
		return errors.New("missing base url")
	}
	return nil
}

// Redacted returns a YAML dump of s with the API key masked.
func (s *Settings) Redacted() (string, error) {
	c := s.Clone()
	if c.Client.APIKey != "" {
		c.Client.APIKey = "****"
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Settings) Timeout() time.Duration {
	if s.Client.Timeout == nil {
		return 0
	}
	return *s.Client.Timeout
}
