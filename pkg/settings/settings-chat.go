package settings

import (
	"time"

	"github.com/huandu/go-clone"
)

const (
	DefaultSnapshotInterval = 100 * time.Millisecond
	DefaultDeltaPath        = "choices.0.delta.content"
	DefaultExportTemplate   = `{{ .Time | date "2006/01/02" }}/{{ .Time | date "150405" }}-{{ .ConversationID | trunc 8 }}.json`
)

type ChatSettings struct {
	Model            *string       `yaml:"model,omitempty"`
	SystemPrompt     string        `yaml:"system,omitempty"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval,omitempty"`
	DeltaPath        string        `yaml:"delta_path,omitempty"`
	ExportDir        string        `yaml:"export_dir,omitempty"`
	ExportTemplate   string        `yaml:"export_template,omitempty"`
}

func NewChatSettings() *ChatSettings {
	return &ChatSettings{
		SnapshotInterval: DefaultSnapshotInterval,
		DeltaPath:        DefaultDeltaPath,
		ExportTemplate:   DefaultExportTemplate,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// ModelOr returns the configured model, or fallback if none is set.
func (s *ChatSettings) ModelOr(fallback string) string {
	if s.Model == nil || *s.Model == "" {
		return fallback
	}
	return *s.Model
}
