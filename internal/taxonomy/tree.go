package taxonomy

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/yungbote/adgraph/internal/domain/migerr"
)

const (
	RootID   int64 = 1
	RootName       = "root"
)

type State string

const (
	StateCreated   State = "created"
	StateActive    State = "active"
	StateSegmented State = "segmented"
)

var ErrNotFound = errors.New("taxonomy: node not found")

// Item is one offer attached to a leaf. Dimensions are keyed by upper-cased dimension type.
type Item struct {
	ID         string
	Clicks     int64
	Dimensions map[string]string
}

type Node struct {
	ID        int64
	Name      string
	ParentID  int64
	Type      NodeType
	Clicks    int64
	IsSegment bool
	State     State
	Children  []int64
	Items     []Item
}

func (n Node) IsLeaf() bool { return len(n.Children) == 0 }

// Tree is an arena of nodes keyed by id. It is safe for concurrent use.
type Tree struct {
	mu    sync.RWMutex
	nodes map[int64]*Node
	maxID int64
}

func NewTree() *Tree {
	return &Tree{
		nodes: map[int64]*Node{
			RootID: {ID: RootID, Name: RootName, Type: TypeRoot, State: StateActive},
		},
		maxID: RootID,
	}
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// CreateNode inserts rec under its parent, or under the root when no parent is declared.
func (t *Tree) CreateNode(rec NodeRecord) error {
	const op = "taxonomy.create_node"
	if strings.TrimSpace(rec.Name) == "" {
		return migerr.MalformedRecord(op, "node %d: name is required", rec.ID)
	}
	if !slices.Contains(nodeTypes, rec.Type) {
		return migerr.MalformedRecord(op, "node %d: node type %q is not allowed", rec.ID, rec.Type)
	}
	if rec.Clicks < 0 {
		return migerr.MalformedRecord(op, "node %d: clicks must be >= 0", rec.ID)
	}
	parent := RootID
	if rec.ParentID != nil {
		parent = *rec.ParentID
	}
	if rec.ID == parent {
		return migerr.MalformedRecord(op, "node %d is its own parent", rec.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[rec.ID]; ok {
		return migerr.MalformedRecord(op, "node %d already exists", rec.ID)
	}
	p, ok := t.nodes[parent]
	if !ok {
		return migerr.MalformedRecord(op, "node %d: parent %d does not exist", rec.ID, parent)
	}
	if p.IsSegment || p.State == StateSegmented {
		return migerr.MalformedRecord(op, "node %d: parent %d is segmented", rec.ID, parent)
	}
	t.insert(&Node{
		ID:       rec.ID,
		Name:     rec.Name,
		ParentID: parent,
		Type:     rec.Type,
		Clicks:   rec.Clicks,
		State:    StateCreated,
	})
	return nil
}

// CreateFromPayload parses payload and inserts the resulting node.
func (t *Tree) CreateFromPayload(payload map[string]any) error {
	rec, err := ParseNodeRecord(payload)
	if err != nil {
		return err
	}
	return t.CreateNode(rec)
}

func (t *Tree) insert(n *Node) {
	t.nodes[n.ID] = n
	p := t.nodes[n.ParentID]
	i, _ := slices.BinarySearch(p.Children, n.ID)
	p.Children = slices.Insert(p.Children, i, n.ID)
	if n.ID > t.maxID {
		t.maxID = n.ID
	}
}

// Get returns a copy of the node.
func (t *Tree) Get(id int64) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return clone(n), true
}

func clone(n *Node) Node {
	out := *n
	out.Children = slices.Clone(n.Children)
	out.Items = slices.Clone(n.Items)
	return out
}

// GetAncestors returns the ancestors of id, nearest first. The root, when included, is the last
// entry. The root itself has no ancestors.
func (t *Tree) GetAncestors(id int64, includeRoot bool) ([]int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	out := []int64{}
	if id == RootID {
		return out, nil
	}
	for cur := n.ParentID; ; {
		if cur == RootID {
			if includeRoot {
				out = append(out, RootID)
			}
			return out, nil
		}
		out = append(out, cur)
		cur = t.nodes[cur].ParentID
	}
}

// GetCategoryLevel counts the CATEGORY nodes among the non-root ancestors of id.
func (t *Tree) GetCategoryLevel(id int64) (int, error) {
	anc, err := t.GetAncestors(id, false)
	if err != nil {
		return 0, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	level := 0
	for _, a := range anc {
		if t.nodes[a].Type == TypeCategory {
			level++
		}
	}
	return level, nil
}

// AddItem attaches an item to a leaf and adds its clicks to the leaf volume. The first item moves
// the node from Created to Active.
func (t *Tree) AddItem(id int64, it Item) error {
	const op = "taxonomy.add_item"
	if strings.TrimSpace(it.ID) == "" {
		return migerr.MalformedRecord(op, "node %d: item id is required", id)
	}
	if it.Clicks < 0 {
		return migerr.MalformedRecord(op, "node %d: item %s has negative clicks", id, it.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if id == RootID || !n.IsLeaf() {
		return migerr.MalformedRecord(op, "node %d is not a leaf", id)
	}
	if n.State == StateSegmented {
		return migerr.MalformedRecord(op, "node %d is segmented", id)
	}
	dims := make(map[string]string, len(it.Dimensions))
	for k, v := range it.Dimensions {
		dims[strings.ToUpper(k)] = v
	}
	it.Dimensions = dims
	n.Items = append(n.Items, it)
	n.Clicks += it.Clicks
	if n.State == StateCreated {
		n.State = StateActive
	}
	return nil
}

// Walk visits nodes depth-first from the root, children in id order. Returning false from fn
// stops the walk.
func (t *Tree) Walk(fn func(n Node, depth int) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.walk(RootID, 0, fn)
}

func (t *Tree) walk(id int64, depth int, fn func(Node, int) bool) bool {
	n := t.nodes[id]
	if !fn(clone(n), depth) {
		return false
	}
	for _, c := range n.Children {
		if !t.walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}

// Render writes the tree as indented text, two spaces per level.
func (t *Tree) Render(w io.Writer) error {
	var err error
	t.Walk(func(n Node, depth int) bool {
		line := fmt.Sprintf("%s%s (#%d %s clicks=%d", strings.Repeat("  ", depth), n.Name, n.ID, n.Type, n.Clicks)
		if n.IsSegment {
			line += " segment"
		}
		_, err = fmt.Fprintln(w, line+")")
		return err == nil
	})
	return err
}
