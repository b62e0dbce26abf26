package conversation

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// StreamBinding is the single writer allowed to append content to a pending node.
//
// Appends, cancellation and release all take the tree lock, so once Cancel returns no
// later delta can reach the node.
type StreamBinding struct {
	tree     *Tree
	id       NodeID
	content  strings.Builder
	canceled bool
	released bool
}

// BindStream makes id the live target of a stream session. Only one session may be
// bound to a node, and a node whose stream was released stays frozen.
func (t *Tree) BindStream(id NodeID) (*StreamBinding, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrPathOutOfRange, "unknown node %s", id)
	}
	if _, ok := t.bound[id]; ok {
		return nil, errors.Wrapf(ErrNodeBusy, "node %s", id)
	}
	if _, ok := t.frozen[id]; ok {
		return nil, errors.Wrapf(ErrNodeFrozen, "node %s", id)
	}

	b := &StreamBinding{tree: t, id: id}
	b.content.WriteString(node.Message.Content)
	t.bound[id] = b
	t.revision++
	return b, nil
}

func (b *StreamBinding) NodeID() NodeID {
	return b.id
}

func (b *StreamBinding) ID() string {
	return b.id.String()
}

// Append adds delta to the node content. It reports false without error once the
// binding has been canceled, and fails with ErrNodeFrozen after release.
func (b *StreamBinding) Append(delta string) (bool, error) {
	t := b.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	if b.canceled {
		return false, nil
	}
	if b.released {
		return false, errors.Wrapf(ErrNodeFrozen, "node %s", b.id)
	}

	b.content.WriteString(delta)
	node := t.nodes[b.id]
	node.Message.Content = b.content.String()
	node.LastUpdate = time.Now()
	t.revision++
	return true, nil
}

// Cancel turns every later Append into a no-op.
func (b *StreamBinding) Cancel() {
	b.tree.mu.Lock()
	defer b.tree.mu.Unlock()
	b.canceled = true
}

func (b *StreamBinding) Canceled() bool {
	b.tree.mu.RLock()
	defer b.tree.mu.RUnlock()
	return b.canceled
}

// Release freezes the node for good. Calling it twice is fine.
func (b *StreamBinding) Release() {
	t := b.tree
	t.mu.Lock()
	defer t.mu.Unlock()

	if b.released {
		return
	}
	b.released = true
	if t.bound[b.id] == b {
		delete(t.bound, b.id)
	}
	t.frozen[b.id] = struct{}{}
	t.revision++
}

// Text returns the content accumulated so far.
func (b *StreamBinding) Text() string {
	b.tree.mu.RLock()
	defer b.tree.mu.RUnlock()
	return b.tree.nodes[b.id].Message.Content
}

func (b *StreamBinding) Revision() uint64 {
	return b.tree.Revision()
}
