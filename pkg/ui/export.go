package ui

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// Transcript is the exported form of the displayed path.
type Transcript struct {
	ConversationID string                    `json:"conversation_id"`
	Model          string                    `json:"model"`
	Path           conversation.Path         `json:"path"`
	Time           time.Time                 `json:"time"`
	Messages       conversation.Conversation `json:"messages"`
}

// Exporter writes transcripts below a directory, at a file name rendered from a
// sprig template over the Transcript.
type Exporter struct {
	Dir      string
	template *template.Template
}

func NewExporter(dir string, fileTemplate string) (*Exporter, error) {
	tmpl, err := template.New("export").Funcs(sprig.TxtFuncMap()).Parse(fileTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "invalid export template")
	}
	return &Exporter{Dir: dir, template: tmpl}, nil
}

func (e *Exporter) FileName(t *Transcript) (string, error) {
	var buf bytes.Buffer
	if err := e.template.Execute(&buf, t); err != nil {
		return "", errors.Wrap(err, "could not render export file name")
	}
	name := filepath.Clean(buf.String())
	if name == "." || filepath.IsAbs(name) {
		return "", errors.Errorf("export template produced unusable file name %q", buf.String())
	}
	return filepath.Join(e.Dir, name), nil
}

// Export writes t as indented JSON and returns the file it was written to.
func (e *Exporter) Export(t *Transcript) (string, error) {
	fullPath, err := e.FileName(t)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", errors.Wrap(err, "could not create export directory")
	}

	b, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(fullPath, append(b, '\n'), 0o644); err != nil {
		return "", errors.Wrapf(err, "could not write %s", fullPath)
	}
	return fullPath, nil
}

// NewTranscript projects path in the manager's current tree. The transcript is
// stamped with the time the conversation was started.
func NewTranscript(m *conversation.ManagerImpl, path conversation.Path) (*Transcript, error) {
	msgs, err := m.GetConversation(path)
	if err != nil {
		return nil, err
	}
	return &Transcript{
		ConversationID: m.ConversationID.String(),
		Model:          m.Model(),
		Path:           path.Clone(),
		Time:           m.StartTime(),
		Messages:       msgs,
	}, nil
}
