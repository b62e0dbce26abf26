package conversation

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = NodeID(uuid)
	return nil
}

func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

var NullNode NodeID = NodeID(uuid.Nil)

// Node is a single message in the tree. The parent is referenced by ID only, children
// are ordered and only ever appended to.
type Node struct {
	ID         NodeID                 `json:"id"`
	ParentID   NodeID                 `json:"parentID"`
	Message    Message                `json:"message"`
	Children   []NodeID               `json:"children"`
	Time       time.Time              `json:"time"`
	LastUpdate time.Time              `json:"lastUpdate"`
}

// CreateNode returns a node with no children. It is not linked into any tree.
func CreateNode(msg Message, parentID NodeID) *Node {
	now := time.Now()
	ret := &Node{
		ID:         NewNodeID(),
		ParentID:   parentID,
		Message:    msg,
		Children:   []NodeID{},
		Time:       now,
		LastUpdate: now,
	}
	return ret
}

func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

func (n *Node) clone() *Node {
	ret := *n
	ret.Children = make([]NodeID, len(n.Children))
	copy(ret.Children, n.Children)
	return &ret
}

// Tree stores every node of a branching conversation, keyed by ID.
//
// The root is a system node whose content may be empty. An empty root is left out of
// projections. Every mutation bumps the revision, which readers compare to decide
// whether they need to re-project.
//
// All methods are safe for concurrent use. Node values handed out are copies.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[NodeID]*Node
	rootID   NodeID
	revision uint64
	bound    map[NodeID]*StreamBinding
	// nodes whose streamed content was released, they never accept a binding again
	frozen map[NodeID]struct{}
}

func NewTree(systemPrompt string) *Tree {
	root := CreateNode(NewSystemMessage(systemPrompt), NullNode)
	return &Tree{
		nodes:  map[NodeID]*Node{root.ID: root},
		rootID: root.ID,
		bound:  map[NodeID]*StreamBinding{},
		frozen: map[NodeID]struct{}{},
	}
}

func (t *Tree) RootID() NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

func (t *Tree) Revision() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.revision
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func (t *Tree) GetNodeByID(id NodeID) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return node.clone(), true
}

// IsStreaming reports whether a stream session is currently bound to the node.
func (t *Tree) IsStreaming(id NodeID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.bound[id]
	return ok
}

func (t *Tree) resolve(path Path) (*Node, error) {
	node := t.nodes[t.rootID]
	for depth, idx := range path {
		if idx < 0 || idx >= len(node.Children) {
			return nil, pathOutOfRange(path, depth, len(node.Children))
		}
		node = t.nodes[node.Children[idx]]
	}
	return node, nil
}

// NodeAt resolves path by descending exactly len(path) times from the root.
func (t *Tree) NodeAt(path Path) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, err := t.resolve(path)
	if err != nil {
		return nil, err
	}
	return node.clone(), nil
}

// ProjectPath returns the messages along path in root-to-leaf order.
func (t *Tree) ProjectPath(path Path) (Conversation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.nodes[t.rootID]
	ret := make(Conversation, 0, len(path)+1)
	if node.Message.Content != "" {
		ret = append(ret, node.Message)
	}
	for depth, idx := range path {
		if idx < 0 || idx >= len(node.Children) {
			return nil, pathOutOfRange(path, depth, len(node.Children))
		}
		node = t.nodes[node.Children[idx]]
		ret = append(ret, node.Message)
	}
	return ret, nil
}

func (t *Tree) appendChild(parent *Node, msg Message) (int, *Node) {
	child := CreateNode(msg, parent.ID)
	t.nodes[child.ID] = child
	parent.Children = append(parent.Children, child.ID)
	parent.LastUpdate = child.Time
	t.revision++
	return len(parent.Children) - 1, child
}

// AppendChild appends a new node holding msg as the last child of parentID and
// returns its index, which equals the previous child count.
func (t *Tree) AppendChild(parentID NodeID, msg Message) (int, *Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !msg.Role.IsValid() {
		return 0, nil, errors.Wrapf(ErrInvalidRole, "%q", msg.Role)
	}
	parent, ok := t.nodes[parentID]
	if !ok {
		return 0, nil, errors.Wrapf(ErrPathOutOfRange, "unknown parent %s", parentID)
	}
	idx, child := t.appendChild(parent, msg)

	log.Trace().
		Str("parent", parentID.String()).
		Str("node", child.ID.String()).
		Int("index", idx).
		Str("role", string(msg.Role)).
		Msg("appended child")
	return idx, child.clone(), nil
}

// AddSiblingVariant appends a new variant next to nodeID, under the same parent.
func (t *Tree) AddSiblingVariant(nodeID NodeID, msg Message) (int, *Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !msg.Role.IsValid() {
		return 0, nil, errors.Wrapf(ErrInvalidRole, "%q", msg.Role)
	}
	node, ok := t.nodes[nodeID]
	if !ok {
		return 0, nil, errors.Wrapf(ErrPathOutOfRange, "unknown node %s", nodeID)
	}
	parent, ok := t.nodes[node.ParentID]
	if !ok {
		return 0, nil, errors.Wrapf(ErrNoParent, "node %s", nodeID)
	}
	idx, child := t.appendChild(parent, msg)
	return idx, child.clone(), nil
}

// ChangeVariant moves the last index of path by delta among its siblings, wrapping in
// both directions, then follows the first child at every level down to a leaf.
func (t *Tree) ChangeVariant(path Path, delta int) (Path, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, ok := path.Last()
	if !ok {
		return nil, ErrNoParent
	}
	parent, err := t.resolve(path.Parent())
	if err != nil {
		return nil, err
	}
	count := len(parent.Children)
	if count == 0 {
		return nil, errors.Wrapf(ErrNoSiblings, "path %s", path)
	}
	if last < 0 || last >= count {
		return nil, pathOutOfRange(path, len(path)-1, count)
	}

	ret := path.Parent().Child(cycleIndex(last, delta, count))
	return t.extendToLeaf(ret), nil
}

func (t *Tree) extendToLeaf(path Path) Path {
	node, err := t.resolve(path)
	if err != nil {
		return path
	}
	for !node.IsLeaf() {
		path = append(path, 0)
		node = t.nodes[node.Children[0]]
	}
	return path
}

// ExtendToLeaf appends zeros to path until it reaches a leaf.
func (t *Tree) ExtendToLeaf(path Path) (Path, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, err := t.resolve(path); err != nil {
		return nil, err
	}
	return t.extendToLeaf(path.Clone()), nil
}

// PathTo walks up from id to the root and returns the path that selects it.
func (t *Tree) PathTo(id NodeID) (Path, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pathTo(id)
}

func (t *Tree) pathTo(id NodeID) (Path, error) {
	node, ok := t.nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrPathOutOfRange, "unknown node %s", id)
	}
	var reversed Path
	for node.ID != t.rootID {
		parent := t.nodes[node.ParentID]
		idx := -1
		for i, childID := range parent.Children {
			if childID == node.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, errors.Errorf("node %s missing from children of %s", node.ID, parent.ID)
		}
		reversed = append(reversed, idx)
		node = parent
	}

	ret := make(Path, len(reversed))
	for i, idx := range reversed {
		ret[len(reversed)-1-i] = idx
	}
	return ret, nil
}

// SiblingInfo returns the index of the node selected by path among its siblings and
// the number of siblings. The root counts as the only variant of itself.
func (t *Tree) SiblingInfo(path Path) (int, int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, ok := path.Last()
	if !ok {
		return 0, 1, nil
	}
	parent, err := t.resolve(path.Parent())
	if err != nil {
		return 0, 0, err
	}
	if last < 0 || last >= len(parent.Children) {
		return 0, 0, pathOutOfRange(path, len(path)-1, len(parent.Children))
	}
	return last, len(parent.Children), nil
}
