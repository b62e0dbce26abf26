package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type ManagerImpl struct {
	ConversationID uuid.UUID

	mu            sync.RWMutex
	tree          *Tree
	systemPrompt  string
	model         string
	opener        Opener
	notifier      ChangeNotifier
	streamOptions []stream.Option
	startTime     time.Time
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithManagerConversationID(conversationID uuid.UUID) ManagerOption {
	return func(m *ManagerImpl) {
		m.ConversationID = conversationID
	}
}

func WithSystemPrompt(prompt string) ManagerOption {
	return func(m *ManagerImpl) {
		m.systemPrompt = prompt
	}
}

func WithModel(model string) ManagerOption {
	return func(m *ManagerImpl) {
		m.model = model
	}
}

func WithOpener(opener Opener) ManagerOption {
	return func(m *ManagerImpl) {
		m.opener = opener
	}
}

func WithNotifier(notifier ChangeNotifier) ManagerOption {
	return func(m *ManagerImpl) {
		m.notifier = notifier
	}
}

func WithStreamOptions(options ...stream.Option) ManagerOption {
	return func(m *ManagerImpl) {
		m.streamOptions = append(m.streamOptions, options...)
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{
		ConversationID: uuid.Nil,
		startTime:      time.Now(),
	}
	for _, option := range options {
		option(ret)
	}

	if ret.ConversationID == uuid.Nil {
		ret.ConversationID = uuid.New()
	}
	ret.tree = NewTree(ret.systemPrompt)

	return ret
}

func (c *ManagerImpl) Tree() *Tree {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tree
}

func (c *ManagerImpl) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *ManagerImpl) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

func (c *ManagerImpl) StartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startTime
}

// Reset discards the whole tree and starts a new conversation with the same settings.
// Any stream still bound to the old tree keeps writing into it, callers cancel first.
func (c *ManagerImpl) Reset() {
	c.mu.Lock()
	c.ConversationID = uuid.New()
	c.tree = NewTree(c.systemPrompt)
	c.startTime = time.Now()
	c.mu.Unlock()

	log.Debug().Str("conversation", c.ConversationID.String()).Msg("started new conversation")
	c.notify()
}

func (c *ManagerImpl) notify() {
	c.mu.RLock()
	notifier, id, tree := c.notifier, c.ConversationID, c.tree
	c.mu.RUnlock()

	if notifier == nil {
		return
	}
	if err := notifier.NotifyTreeChanged(id.String(), tree.Revision()); err != nil {
		log.Warn().Err(err).Msg("could not notify tree change")
	}
}

func (c *ManagerImpl) GetConversation(path Path) (Conversation, error) {
	return c.Tree().ProjectPath(path)
}

// SendUserTurn appends a user message under the node at path and returns the path to it.
func (c *ManagerImpl) SendUserTurn(path Path, content string) (Path, error) {
	tree := c.Tree()
	node, err := tree.NodeAt(path)
	if err != nil {
		return nil, err
	}
	idx, _, err := tree.AppendChild(node.ID, NewUserMessage(content))
	if err != nil {
		return nil, err
	}
	c.notify()
	return path.Child(idx), nil
}

// EditTurn adds a variant of the node at path holding content. The role is kept.
func (c *ManagerImpl) EditTurn(path Path, content string) (Path, error) {
	tree := c.Tree()
	node, err := tree.NodeAt(path)
	if err != nil {
		return nil, err
	}
	idx, _, err := tree.AddSiblingVariant(node.ID, Message{Role: node.Message.Role, Content: content})
	if err != nil {
		return nil, err
	}
	c.notify()

	log.Debug().
		Str("path", path.String()).
		Int("variant", idx).
		Msg("edited turn")
	return tree.ExtendToLeaf(path.Parent().Child(idx))
}

func (c *ManagerImpl) CycleVariant(path Path, delta int) (Path, error) {
	return c.Tree().ChangeVariant(path, delta)
}

// BeginCompletion asks the opener for a stream answering the conversation at path.
// The pending assistant node is appended under the node at path only once the stream
// is live. The returned path points to it.
func (c *ManagerImpl) BeginCompletion(ctx context.Context, path Path) (*stream.Handle, Path, error) {
	c.mu.RLock()
	tree, model, opener := c.tree, c.model, c.opener
	options := append([]stream.Option{}, c.streamOptions...)
	c.mu.RUnlock()

	if opener == nil {
		return nil, nil, errors.New("no completion opener configured")
	}

	parent, err := tree.NodeAt(path)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := tree.ProjectPath(path)
	if err != nil {
		return nil, nil, err
	}

	var pendingPath Path
	open := func(ctx context.Context) (*stream.Response, error) {
		return opener.Open(ctx, model, msgs)
	}
	bind := func() (stream.Target, error) {
		idx, node, err := tree.AppendChild(parent.ID, NewAssistantMessage(""))
		if err != nil {
			return nil, err
		}
		binding, err := tree.BindStream(node.ID)
		if err != nil {
			return nil, err
		}
		pendingPath = path.Child(idx)
		return binding, nil
	}

	handle, err := stream.Begin(ctx, open, bind, options...)
	if err != nil {
		return nil, nil, err
	}
	c.notify()

	log.Debug().
		Str("model", model).
		Str("path", pendingPath.String()).
		Int("messages", len(msgs)).
		Msg("started completion")
	return handle, pendingPath, nil
}

// Regenerate streams a new variant of the assistant turn at path.
func (c *ManagerImpl) Regenerate(ctx context.Context, path Path) (*stream.Handle, Path, error) {
	node, err := c.Tree().NodeAt(path)
	if err != nil {
		return nil, nil, err
	}
	if node.Message.Role != RoleAssistant {
		return nil, nil, errors.Wrapf(ErrNotAssistant, "path %s has role %s", path, node.Message.Role)
	}
	return c.BeginCompletion(ctx, path.Parent())
}
