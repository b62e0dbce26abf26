// Package conversation keeps a branching chat history.
//
// Every message is a node in a tree. Editing an earlier turn or regenerating an answer
// adds a sibling variant instead of overwriting anything, so the full history stays
// reachable. What the user sees is one path through the tree, described by a Path of
// child indices below the root.
//
// The Manager interface is the entry point used by the UI:
// - projecting the messages along a path
// - sending a user turn and editing one into a new variant
// - cycling between variants
// - streaming an assistant answer into a new node
//
// Paths are owned by the caller. Every operation takes the current path and returns the
// path to display next.
package conversation

import (
	"context"

	"github.com/Jeff0Brewer/chatGPT-subscriptionless/pkg/stream"
)

// Manager defines the interface for high-level conversation operations.
type Manager interface {
	GetConversation(path Path) (Conversation, error)
	SendUserTurn(path Path, content string) (Path, error)
	EditTurn(path Path, content string) (Path, error)
	CycleVariant(path Path, delta int) (Path, error)
	BeginCompletion(ctx context.Context, path Path) (*stream.Handle, Path, error)
	Regenerate(ctx context.Context, path Path) (*stream.Handle, Path, error)
}

// Opener starts a completion stream for a projected conversation.
type Opener interface {
	Open(ctx context.Context, model string, msgs Conversation) (*stream.Response, error)
}

type OpenerFunc func(ctx context.Context, model string, msgs Conversation) (*stream.Response, error)

func (f OpenerFunc) Open(ctx context.Context, model string, msgs Conversation) (*stream.Response, error) {
	return f(ctx, model, msgs)
}

// ChangeNotifier is told about every tree mutation made through the manager.
type ChangeNotifier interface {
	NotifyTreeChanged(conversationID string, revision uint64) error
}
