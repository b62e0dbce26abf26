package conversation

import (
	"github.com/pkg/errors"
)

// These are programming-contract violations. Callers are expected to surface them
// instead of retrying or clamping.
var (
	// ErrPathOutOfRange is returned when a path or node ID does not name an existing node.
	ErrPathOutOfRange = errors.New("path out of range")
	// ErrNoParent is returned when a sibling operation is attempted on the root.
	ErrNoParent = errors.New("node has no parent")
	// ErrNoSiblings is returned when cycling among an empty set of children.
	ErrNoSiblings = errors.New("no siblings to cycle through")
	// ErrNodeFrozen is returned when content is appended to, or a stream bound to, a node
	// whose streamed content was already released.
	ErrNodeFrozen = errors.New("node content is frozen")
	// ErrNodeBusy is returned when a second stream tries to bind to a node that is still streaming.
	ErrNodeBusy = errors.New("node is already bound to a stream")
	// ErrInvalidRole is returned when a message carries a role other than system, user or assistant.
	ErrInvalidRole = errors.New("invalid message role")
	// ErrNotAssistant is returned when regenerating a node that is not an assistant turn.
	ErrNotAssistant = errors.New("node is not an assistant turn")
)

func pathOutOfRange(path Path, depth int, count int) error {
	return errors.Wrapf(ErrPathOutOfRange, "index %d at depth %d of path %s (children: %d)", path[depth], depth, path, count)
}
