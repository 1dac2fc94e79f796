package graph

// Tree is the cached tree for the current selection: the root id, the flat
// node map and the set of expanded nodes.
//
// Tree is not safe for concurrent use. The session serializes access.
type Tree struct {
	RootID   string
	Nodes    Nodes
	Expanded *ExpansionSet
}

// NewTree builds a tree from a freshly normalized fetch with only the root
// expanded.
func NewTree(rootID string, nodes Nodes) *Tree {
	return &Tree{
		RootID:   rootID,
		Nodes:    nodes,
		Expanded: NewExpansionSet(rootID),
	}
}

func (t *Tree) Get(id string) (*Node, error) {
	return t.Nodes.Get(id)
}

// Refresh folds a re-fetch of the whole tree into the cache.
//
// Loaded subtrees below the fetch boundary survive the merge. Nodes no
// longer reachable from the root are dropped, and expansion is reconciled to
// the ids the fetch actually returned, plus the root.
func (t *Tree) Refresh(incoming Nodes) {
	t.Nodes = Merge(t.Nodes, incoming)
	t.Prune()
	t.Expanded.Retain(incoming)
	t.Expanded.Add(t.RootID)
}

// MarkLoading flags id as having a child fetch in flight. It returns false
// when the node is unknown or a fetch is already running.
func (t *Tree) MarkLoading(id string) bool {
	n, ok := t.Nodes[id]
	if !ok || n.LoadingChildren {
		return false
	}
	c := n.Clone()
	c.LoadingChildren = true
	c.ChildrenError = ""
	t.Nodes[id] = c
	return true
}

// ApplyChildren merges a one-level fetch rooted at id and marks id loaded.
func (t *Tree) ApplyChildren(id string, incoming Nodes) error {
	if _, ok := t.Nodes[id]; !ok {
		return ErrNotFound
	}
	t.Nodes = Merge(t.Nodes, incoming)
	c := t.Nodes[id].Clone()
	c.ChildrenLoaded = true
	c.LoadingChildren = false
	c.ChildrenError = ""
	t.Nodes[id] = c
	return nil
}

// StopLoading clears the in-flight flag on id without recording an outcome.
func (t *Tree) StopLoading(id string) {
	n, ok := t.Nodes[id]
	if !ok || !n.LoadingChildren {
		return
	}
	c := n.Clone()
	c.LoadingChildren = false
	t.Nodes[id] = c
}

// FailChildren records a failed one-level fetch for id.
func (t *Tree) FailChildren(id, msg string) error {
	n, ok := t.Nodes[id]
	if !ok {
		return ErrNotFound
	}
	c := n.Clone()
	c.LoadingChildren = false
	c.ChildrenError = msg
	t.Nodes[id] = c
	return nil
}

// Prune drops every node not reachable from the root through ChildIDs.
func (t *Tree) Prune() {
	reachable := make(map[string]struct{}, len(t.Nodes))
	stack := []string{t.RootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reachable[id]; seen {
			continue
		}
		n, ok := t.Nodes[id]
		if !ok {
			continue
		}
		reachable[id] = struct{}{}
		stack = append(stack, n.ChildIDs...)
	}
	for id := range t.Nodes {
		if _, ok := reachable[id]; !ok {
			delete(t.Nodes, id)
		}
	}
}

// Walk visits the visible rows in display order: the root, then the
// children of every expanded node, depth first. Children missing from the
// cache are skipped. Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(n *Node, level int) bool) {
	var visit func(id string, level int) bool
	visit = func(id string, level int) bool {
		n, ok := t.Nodes[id]
		if !ok {
			return true
		}
		if !fn(n, level) {
			return false
		}
		if !t.Expanded.Has(id) {
			return true
		}
		for _, child := range n.ChildIDs {
			if !visit(child, level+1) {
				return false
			}
		}
		return true
	}
	visit(t.RootID, 0)
}

// Clone returns a copy that shares node pointers but owns its map and
// expansion set.
func (t *Tree) Clone() *Tree {
	return &Tree{
		RootID:   t.RootID,
		Nodes:    t.Nodes.Clone(),
		Expanded: t.Expanded.Clone(),
	}
}
