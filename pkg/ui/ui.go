package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/conversation"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/models"
	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type errMsg error

type State string

const (
	StateUserInput        State = "user_input"
	StateMovingAround     State = "moving_around"
	StateStreamCompletion State = "stream_completion"
	StateError            State = "error"
)

type model struct {
	ctx      context.Context
	manager  *conversation.ManagerImpl
	registry *models.Registry
	exporter *Exporter
	renderer *Renderer
	tokens   *TokenCounter

	// path is the displayed branch. It always ends at a leaf.
	path conversation.Path
	// index into the displayed messages, always valid
	selectedIdx int
	// set while the text area holds a new variant of an existing message
	editPath conversation.Path

	// if not nil, streaming is going on
	handle     *stream.Handle
	streamPath conversation.Path

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	keyMap   KeyMap
	style    *Style
	width    int
	height   int

	state  State
	err    error
	status string
}

type Option func(*model)

func WithContext(ctx context.Context) Option {
	return func(m *model) {
		m.ctx = ctx
	}
}

func WithRegistry(registry *models.Registry) Option {
	return func(m *model) {
		m.registry = registry
	}
}

func WithExporter(exporter *Exporter) Option {
	return func(m *model) {
		m.exporter = exporter
	}
}

func WithRenderer(renderer *Renderer) Option {
	return func(m *model) {
		m.renderer = renderer
	}
}

// StreamDoneMsg is returned by the command waiting on a stream session.
type StreamDoneMsg struct {
	Result *stream.Result
	Err    error
}

func InitialModel(manager *conversation.ManagerImpl, options ...Option) model {
	ret := model{
		ctx:      context.Background(),
		manager:  manager,
		style:    DefaultStyles(),
		keyMap:   DefaultKeyMap,
		viewport: viewport.New(0, 0),
		help:     help.New(),
		path:     conversation.Path{},
		width:    80,
		height:   24,
	}
	for _, o := range options {
		o(&ret)
	}
	if ret.renderer == nil {
		ret.renderer = NewRenderer()
	}
	ret.tokens = NewTokenCounter(manager.Model())

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Send a message..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.Focus()
	ret.state = StateUserInput

	if leaf, err := manager.Tree().ExtendToLeaf(ret.path); err == nil {
		ret.path = leaf
	}
	ret.selectedIdx = len(ret.messages()) - 1

	ret.updateKeyBindings()
	ret.recomputeSize()

	return ret
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			if m.handle != nil {
				m.handle.Cancel()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.UnfocusMessage):
			m.textArea.Blur()
			if m.editPath != nil {
				m.editPath = nil
				m.textArea.Reset()
			}
			m.state = StateMovingAround
			m.updateKeyBindings()
			m.refresh(false)

		case key.Matches(msg, m.keyMap.FocusMessage):
			cmds = append(cmds, m.textArea.Focus())
			m.state = StateUserInput
			m.updateKeyBindings()
			m.refresh(false)

		case key.Matches(msg, m.keyMap.SelectNextMessage):
			if m.selectedIdx < len(m.messages())-1 {
				m.selectedIdx++
				m.refresh(false)
			}

		case key.Matches(msg, m.keyMap.SelectPrevMessage):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refresh(false)
			}

		case key.Matches(msg, m.keyMap.PrevVariant):
			cmds = append(cmds, m.cycleVariant(-1))

		case key.Matches(msg, m.keyMap.NextVariant):
			cmds = append(cmds, m.cycleVariant(1))

		case key.Matches(msg, m.keyMap.EditMessage):
			cmds = append(cmds, m.startEdit())

		case key.Matches(msg, m.keyMap.Regenerate):
			cmds = append(cmds, m.regenerate())

		case key.Matches(msg, m.keyMap.SubmitMessage):
			cmds = append(cmds, m.submit())

		case key.Matches(msg, m.keyMap.CancelCompletion):
			if m.handle != nil {
				m.handle.Cancel()
			}

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			cmds = append(cmds, m.textArea.Focus())
			m.state = StateUserInput
			m.updateKeyBindings()
			m.refresh(false)

		case key.Matches(msg, m.keyMap.NewConversation):
			m.manager.Reset()
			m.path = conversation.Path{}
			m.selectedIdx = len(m.messages()) - 1
			m.status = "new conversation"
			m.refresh(true)

		case key.Matches(msg, m.keyMap.Export):
			cmds = append(cmds, m.export())

		case key.Matches(msg, m.keyMap.NextModel):
			m.nextModel()

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()

		default:
			switch m.state {
			case StateUserInput:
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			case StateMovingAround, StateStreamCompletion, StateError:
				m.viewport, cmd = m.viewport.Update(msg)
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recomputeSize()

	case errMsg:
		cmds = append(cmds, m.setError(msg))

	case SnapshotMsg, StreamFinalMsg:
		m.refresh(true)

	case TreeChangedMsg:
		m.refresh(m.handle != nil)

	case StreamErrorMsg:
		cmds = append(cmds, m.setError(msg.Err))

	case StreamDoneMsg:
		cmds = append(cmds, m.finishCompletion(msg))
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *model) updateKeyBindings() {
	streaming := m.handle != nil
	moving := m.state == StateMovingAround

	m.keyMap.SelectNextMessage.SetEnabled(moving)
	m.keyMap.SelectPrevMessage.SetEnabled(moving)
	m.keyMap.PrevVariant.SetEnabled(moving && !streaming)
	m.keyMap.NextVariant.SetEnabled(moving && !streaming)
	m.keyMap.EditMessage.SetEnabled(moving && !streaming)
	m.keyMap.Regenerate.SetEnabled(moving && !streaming)
	m.keyMap.FocusMessage.SetEnabled(moving && !streaming)
	m.keyMap.UnfocusMessage.SetEnabled(m.state == StateUserInput)
	m.keyMap.SubmitMessage.SetEnabled(m.state == StateUserInput)

	m.keyMap.DismissError.SetEnabled(m.state == StateError)
	m.keyMap.CancelCompletion.SetEnabled(m.state == StateStreamCompletion)

	m.keyMap.NewConversation.SetEnabled(!streaming)
	m.keyMap.Export.SetEnabled(m.exporter != nil)
	m.keyMap.NextModel.SetEnabled(m.registry != nil && !streaming)
	m.keyMap.Help.SetEnabled(m.state != StateUserInput)
}

// messages projects the displayed path. A path that stopped resolving shows nothing.
func (m model) messages() conversation.Conversation {
	msgs, err := m.manager.GetConversation(m.path)
	if err != nil {
		log.Warn().Err(err).Str("path", m.path.String()).Msg("could not project path")
		return nil
	}
	return msgs
}

// messagePath maps the index of a displayed message to the path of its node. The root
// is only displayed when it carries a system prompt.
func messagePath(path conversation.Path, idx int, rootShown bool) conversation.Path {
	n := idx
	if !rootShown {
		n++
	}
	if n < 0 {
		n = 0
	}
	if n > len(path) {
		n = len(path)
	}
	return path[:n].Clone()
}

func (m model) selectedPath() conversation.Path {
	msgs := m.messages()
	return messagePath(m.path, m.selectedIdx, len(msgs) == len(m.path)+1)
}

func variantLabel(idx, count int) string {
	if count < 2 {
		return ""
	}
	return fmt.Sprintf("‹ %d/%d ›", idx+1, count)
}

func (m *model) refresh(goToBottom bool) {
	if n := len(m.messages()); m.selectedIdx >= n {
		m.selectedIdx = n - 1
	}
	if m.selectedIdx < 0 {
		m.selectedIdx = 0
	}
	m.viewport.SetContent(m.messageView())
	if goToBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	h, _ := m.style.FocusedMessage.GetFrameSize()
	if w := m.width - h; w > 0 {
		m.textArea.SetWidth(w)
	}
	m.help.Width = m.width

	m.refresh(true)
}

func (m model) headerView() string {
	parts := []string{"nosub"}
	if id := m.manager.Model(); id != "" {
		label := id
		if m.registry != nil {
			if info, ok := m.registry.Get(id); ok {
				label = info.Label()
			}
		}
		parts = append(parts, label)
	}

	msgs := m.messages()
	contents := make([]string, len(msgs))
	for i, msg := range msgs {
		contents[i] = msg.Content
	}
	if n := m.tokens.Count(contents...); n >= 0 {
		parts = append(parts, fmt.Sprintf("%d tokens", n))
	}
	parts = append(parts, "path "+m.path.String())

	ret := m.style.Header.Render(strings.Join(parts, " · "))
	if m.status != "" {
		ret += "\n" + m.style.Status.Render(m.status)
	}
	return ret
}

func (m model) messageView() string {
	msgs := m.messages()
	rootShown := len(msgs) == len(m.path)+1
	tree := m.manager.Tree()

	frame, _ := m.style.SelectedMessage.GetFrameSize()
	boxWidth := m.width - m.style.SelectedMessage.GetHorizontalBorderSize()
	m.renderer.SetWidth(m.width - frame)

	var sb strings.Builder
	for idx, msg := range msgs {
		p := messagePath(m.path, idx, rootShown)

		header := m.style.Role.Render(string(msg.Role))
		if variant, count, err := tree.SiblingInfo(p); err == nil {
			if label := variantLabel(variant, count); label != "" {
				header += " " + m.style.Variant.Render(label)
			}
		}
		if m.handle != nil && p.Equal(m.streamPath) {
			header += " …"
		}

		body := wrapWords(msg.Content, m.width-frame)
		if msg.Role == conversation.RoleAssistant {
			body = m.renderer.Render(msg.Content)
		}

		style := m.style.UnselectedMessage
		if idx == m.selectedIdx && m.state == StateMovingAround {
			style = m.style.SelectedMessage
		}
		if boxWidth > 0 {
			style = style.Width(boxWidth)
		}
		sb.WriteString(style.Render(header + "\n" + body))
		sb.WriteString("\n")
	}

	return sb.String()
}

func (m model) textAreaView() string {
	w, _ := m.style.Error.GetFrameSize()

	if m.err != nil {
		return m.style.Error.Render(wrapWords(m.err.Error(), m.width-w))
	}

	if m.handle != nil {
		return m.style.UnselectedMessage.Render(fmt.Sprintf("streaming with %s...", m.manager.Model()))
	}

	v := m.textArea.View()
	switch m.state {
	case StateUserInput:
		v = m.style.FocusedMessage.Render(v)
	case StateMovingAround, StateStreamCompletion:
		v = m.style.UnselectedMessage.Render(v)
	case StateError:
	}

	return v
}

func (m model) View() string {
	return m.headerView() + "\n" +
		m.viewport.View() + "\n" +
		m.textAreaView() + "\n" +
		m.help.View(m.keyMap)
}

func (m *model) cycleVariant(delta int) tea.Cmd {
	p := m.selectedPath()
	if p.IsRoot() {
		return nil
	}
	next, err := m.manager.CycleVariant(p, delta)
	if err != nil {
		return m.setError(err)
	}
	m.path = next
	m.status = ""
	m.refresh(false)
	return nil
}

func (m *model) startEdit() tea.Cmd {
	p := m.selectedPath()
	if p.IsRoot() {
		m.status = "the system prompt cannot be edited"
		return nil
	}
	node, err := m.manager.Tree().NodeAt(p)
	if err != nil {
		return m.setError(err)
	}

	m.editPath = p
	m.textArea.SetValue(node.Message.Content)
	m.state = StateUserInput
	m.status = fmt.Sprintf("editing %s message, tab saves a new variant", node.Message.Role)
	m.updateKeyBindings()
	m.recomputeSize()
	return m.textArea.Focus()
}

// regenerate streams a new answer variant for the selected assistant message, or a
// new answer to the selected user message.
func (m *model) regenerate() tea.Cmd {
	p := m.selectedPath()
	node, err := m.manager.Tree().NodeAt(p)
	if err != nil {
		return m.setError(err)
	}

	switch node.Message.Role {
	case conversation.RoleAssistant:
		return m.startCompletion(m.manager.Regenerate(m.ctx, p))
	case conversation.RoleUser:
		return m.startCompletion(m.manager.BeginCompletion(m.ctx, p))
	case conversation.RoleSystem:
	}
	m.status = "select a user or assistant message to regenerate"
	return nil
}

// Chat completion messages
func (m *model) submit() tea.Cmd {
	if m.handle != nil {
		return func() tea.Msg {
			return errMsg(errors.New("already streaming"))
		}
	}

	content := strings.TrimSpace(m.textArea.Value())
	if content == "" {
		return nil
	}

	var (
		next conversation.Path
		role = conversation.RoleUser
		err  error
	)
	if m.editPath != nil {
		node, err_ := m.manager.Tree().NodeAt(m.editPath)
		if err_ != nil {
			return m.setError(err_)
		}
		role = node.Message.Role
		next, err = m.manager.EditTurn(m.editPath, content)
	} else {
		next, err = m.manager.SendUserTurn(m.path, content)
	}
	m.editPath = nil
	m.status = ""
	if err != nil {
		return m.setError(err)
	}

	m.textArea.Reset()
	m.path = next
	m.selectedIdx = len(m.messages()) - 1

	if role != conversation.RoleUser {
		m.refresh(true)
		return nil
	}
	return m.startCompletion(m.manager.BeginCompletion(m.ctx, next))
}

func (m *model) startCompletion(h *stream.Handle, p conversation.Path, err error) tea.Cmd {
	if err != nil {
		return m.setError(err)
	}

	m.handle = h
	m.path = p
	m.streamPath = p
	m.selectedIdx = len(m.messages()) - 1
	m.textArea.Blur()
	m.state = StateStreamCompletion
	m.updateKeyBindings()
	m.recomputeSize()

	return waitForStream(h)
}

func waitForStream(h *stream.Handle) tea.Cmd {
	return func() tea.Msg {
		res, err := h.Wait()
		return StreamDoneMsg{Result: res, Err: err}
	}
}

func (m *model) finishCompletion(msg StreamDoneMsg) tea.Cmd {
	m.handle = nil
	m.streamPath = nil

	if msg.Result != nil {
		switch msg.Result.Reason {
		case stream.ReasonDone:
			m.status = ""
		case stream.ReasonAborted:
			m.status = "stream ended early, the answer may be incomplete"
		case stream.ReasonCanceled:
			m.status = "stopped"
		}
		log.Debug().
			Str("node", msg.Result.NodeID).
			Str("reason", string(msg.Result.Reason)).
			Int("deltas", msg.Result.Stats.Deltas).
			Msg("completion finished")
	}

	var cmd tea.Cmd
	if m.err == nil {
		m.state = StateUserInput
		cmd = m.textArea.Focus()
	}
	m.updateKeyBindings()
	m.recomputeSize()
	return cmd
}

func (m *model) export() tea.Cmd {
	t, err := NewTranscript(m.manager, m.path)
	if err != nil {
		return m.setError(err)
	}
	fileName, err := m.exporter.Export(t)
	if err != nil {
		return m.setError(err)
	}
	m.status = "exported to " + fileName
	m.recomputeSize()
	return nil
}

func (m *model) nextModel() {
	next := m.registry.Next(m.manager.Model())
	if next == nil {
		return
	}
	m.manager.SetModel(next.ID)
	m.tokens = NewTokenCounter(next.ID)
	m.status = next.Label() + "  " + next.Ratings()
	m.recomputeSize()
}

func (m *model) setError(err error) tea.Cmd {
	log.Debug().Err(err).Msg("showing error")
	m.err = err
	m.state = StateError
	m.textArea.Blur()
	m.updateKeyBindings()
	m.recomputeSize()
	return nil
}
