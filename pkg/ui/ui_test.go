package ui

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/events"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseBody(deltas ...string) io.ReadCloser {
	var sb strings.Builder
	for _, d := range deltas {
		sb.WriteString(`data: {"choices":[{"delta":{"content":"` + d + `"}}]}` + "\n\n")
	}
	sb.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(sb.String()))
}

func replying(deltas ...string) conversation.OpenerFunc {
	return func(ctx context.Context, model string, msgs conversation.Conversation) (*stream.Response, error) {
		return &stream.Response{OK: true, StatusCode: 200, Body: sseBody(deltas...)}, nil
	}
}

func newTestModel(t *testing.T, options ...conversation.ManagerOption) model {
	t.Helper()
	options = append([]conversation.ManagerOption{conversation.WithModel("gpt-4")}, options...)
	m := conversation.NewManager(options...)
	return InitialModel(m, WithRenderer(NewRenderer(WithMarkdown(false))))
}

func press(t *testing.T, m model, k tea.KeyMsg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(k)
	ret, ok := next.(model)
	require.True(t, ok)
	return ret, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// finishStream waits for the running session and feeds its result back into the model.
func finishStream(t *testing.T, m model) model {
	t.Helper()
	require.NotNil(t, m.handle)
	res, err := m.handle.Wait()
	next, _ := m.Update(StreamDoneMsg{Result: res, Err: err})
	return next.(model)
}

func contents(conv conversation.Conversation) []string {
	ret := make([]string, len(conv))
	for i, msg := range conv {
		ret[i] = msg.Content
	}
	return ret
}

func TestMessagePath(t *testing.T) {
	path := conversation.Path{1, 0, 2}

	assert.Equal(t, conversation.Path{1}, messagePath(path, 0, false))
	assert.Equal(t, conversation.Path{1, 0, 2}, messagePath(path, 2, false))
	assert.Equal(t, conversation.Path{1, 0, 2}, messagePath(path, 5, false))

	assert.Equal(t, conversation.Path{}, messagePath(path, 0, true))
	assert.Equal(t, conversation.Path{1, 0}, messagePath(path, 2, true))
}

func TestVariantLabel(t *testing.T) {
	assert.Equal(t, "", variantLabel(0, 1))
	assert.Equal(t, "‹ 2/3 ›", variantLabel(1, 3))
}

func TestSubmitStreamsAnswer(t *testing.T) {
	m := newTestModel(t, conversation.WithOpener(replying("Hel", "lo")))

	m.textArea.SetValue("Hi")
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.NotNil(t, cmd)
	assert.Equal(t, StateStreamCompletion, m.state)
	assert.Equal(t, conversation.Path{0, 0}, m.path)
	assert.Equal(t, "", m.textArea.Value())

	m = finishStream(t, m)
	assert.Nil(t, m.handle)
	assert.Equal(t, StateUserInput, m.state)
	assert.Equal(t, []string{"Hi", "Hello"}, contents(m.messages()))
	assert.Contains(t, m.View(), "Hello")
}

func TestEditCycleAndRegenerate(t *testing.T) {
	m := newTestModel(t, conversation.WithOpener(replying("Hello")))

	m.textArea.SetValue("Hi")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m = finishStream(t, m)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	require.Equal(t, StateMovingAround, m.state)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	require.Equal(t, 0, m.selectedIdx)

	m, _ = press(t, m, runes("e"))
	require.Equal(t, StateUserInput, m.state)
	assert.Equal(t, "Hi", m.textArea.Value())

	m.textArea.SetValue("Hey")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, conversation.Path{1, 0}, m.path)
	m = finishStream(t, m)
	assert.Equal(t, []string{"Hey", "Hello"}, contents(m.messages()))
	assert.Contains(t, m.messageView(), "‹ 2/2 ›")

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyUp})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	assert.Equal(t, conversation.Path{0, 0}, m.path)
	assert.Equal(t, []string{"Hi", "Hello"}, contents(m.messages()))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m, _ = press(t, m, runes("r"))
	assert.Equal(t, conversation.Path{0, 1}, m.path)
	m = finishStream(t, m)
	assert.Equal(t, StateUserInput, m.state)
	assert.Contains(t, m.messageView(), "‹ 2/2 ›")
}

func TestUnavailableStreamShowsError(t *testing.T) {
	rejecting := conversation.OpenerFunc(func(ctx context.Context, model string, msgs conversation.Conversation) (*stream.Response, error) {
		return &stream.Response{OK: false, StatusCode: 401, ErrorPayload: "bad key"}, nil
	})
	m := newTestModel(t, conversation.WithOpener(rejecting))

	m.textArea.SetValue("Hi")
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, StateError, m.state)
	require.Error(t, m.err)
	assert.ErrorIs(t, m.err, stream.ErrStreamUnavailable)
	assert.Nil(t, m.handle)
	assert.Equal(t, []string{"Hi"}, contents(m.messages()))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, StateUserInput, m.state)
	assert.NoError(t, m.err)
}

func TestSystemPromptIsShownAndNotEditable(t *testing.T) {
	m := newTestModel(t, conversation.WithSystemPrompt("be brief"))
	assert.Equal(t, []string{"be brief"}, contents(m.messages()))

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = press(t, m, runes("e"))
	assert.Equal(t, StateMovingAround, m.state)
	assert.Nil(t, m.editPath)
	assert.NotEmpty(t, m.status)
}

func TestNextModelAndNewConversation(t *testing.T) {
	registry, err := models.Default()
	require.NoError(t, err)

	mgr := conversation.NewManager(conversation.WithModel("gpt-4"))
	_, err = mgr.SendUserTurn(conversation.Path{}, "Hi")
	require.NoError(t, err)
	m := InitialModel(mgr, WithRegistry(registry), WithRenderer(NewRenderer(WithMarkdown(false))))
	assert.Equal(t, conversation.Path{0}, m.path)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.Equal(t, registry.Next("gpt-4").ID, mgr.Model())

	oldID := mgr.ConversationID
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	assert.NotEqual(t, oldID, mgr.ConversationID)
	assert.Equal(t, conversation.Path{}, m.path)
	assert.Empty(t, m.messages())
}

func TestExportWritesTranscript(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewExporter(dir, `{{ .ConversationID | trunc 8 }}/{{ .Model }}.json`)
	require.NoError(t, err)

	mgr := conversation.NewManager(
		conversation.WithModel("gpt-4"),
		conversation.WithManagerConversationID(uuid.MustParse("12345678-1234-1234-1234-123456789abc")),
	)
	path, err := mgr.SendUserTurn(conversation.Path{}, "Hi")
	require.NoError(t, err)

	transcript, err := NewTranscript(mgr, path)
	require.NoError(t, err)
	fileName, err := exporter.Export(transcript)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "12345678", "gpt-4.json"), fileName)

	b, err := os.ReadFile(fileName)
	require.NoError(t, err)
	var got Transcript
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, conversation.Path{0}, got.Path)
	assert.Equal(t, []string{"Hi"}, contents(got.Messages))
	assert.WithinDuration(t, mgr.StartTime(), got.Time, time.Millisecond)

	mgr.Reset()
	assert.False(t, mgr.StartTime().Before(transcript.Time))
}

func TestExporterDefaultTemplateAndErrors(t *testing.T) {
	_, err := NewExporter("x", "{{ .Nope")
	assert.Error(t, err)

	exporter, err := NewExporter("out", `{{ .Time | date "2006/01/02" }}/{{ .Time | date "150405" }}-{{ .ConversationID | trunc 8 }}.json`)
	require.NoError(t, err)
	name, err := exporter.FileName(&Transcript{
		ConversationID: "abcdefgh-rest",
		Time:           time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("out", "2024", "03", "09", "140506-abcdefgh.json"), name)

	exporter, err = NewExporter("out", `/abs.json`)
	require.NoError(t, err)
	_, err = exporter.FileName(&Transcript{})
	assert.Error(t, err)
}

func TestForwardMapsEvents(t *testing.T) {
	var got []tea.Msg
	handler := forward(func(msg tea.Msg) { got = append(got, msg) })

	send := func(e interface{}) {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		require.NoError(t, handler(message.NewMessage(watermill.NewUUID(), b)))
	}

	meta := events.NewEventMetadata()
	meta.NodeID = "n"
	meta.Revision = 4
	send(events.NewSnapshotEvent(meta, "He"))
	send(events.NewFinalEvent(meta, "Hello"))
	send(events.NewTreeChangedEvent(meta))

	require.Len(t, got, 3)
	assert.Equal(t, SnapshotMsg{NodeID: "n", Text: "He", Revision: 4}, got[0])
	assert.Equal(t, StreamFinalMsg{NodeID: "n", Text: "Hello"}, got[1])
	assert.Equal(t, TreeChangedMsg{Revision: 4}, got[2])

	assert.Error(t, handler(message.NewMessage(watermill.NewUUID(), []byte("nope"))))
}

func TestTokenCounter(t *testing.T) {
	c := NewTokenCounter("not-a-model")
	assert.Greater(t, c.Count("hello world"), 0)
	assert.Equal(t, 0, c.Count())

	var empty *TokenCounter
	assert.Equal(t, -1, empty.Count("x"))
}
