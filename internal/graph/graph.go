// Package graph holds the client-side mirror of a remote BOM tree.
//
// The tree is stored flat: an id-indexed map of nodes, each carrying the ids
// of its children. Subtrees are fetched, merged and dropped independently,
// so nothing here ever walks or rebuilds the whole structure to change one
// branch.
package graph

import (
	"errors"
	"slices"

	"github.com/agentic-research/partbom/api"
)

var ErrNotFound = errors.New("node not found")

// Node is the cached state of one BOM tree node.
//
// Nodes are treated as immutable once stored in a Nodes map: every change
// goes through Clone and replaces the map entry, so maps handed out as
// snapshots never observe later edits.
type Node struct {
	Part               api.PartSummary
	QuantityFromParent *int
	HasChildren        bool
	ChildIDs           []string // immediate children present in the cache, in server order
	ChildrenLoaded     bool     // children resolved at the required depth (always true for leaves)
	LoadingChildren    bool     // a one-level fetch for this node is in flight
	ChildrenError      string   // last failed one-level fetch, cleared by any successful merge
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	c := *n
	c.ChildIDs = slices.Clone(n.ChildIDs)
	c.QuantityFromParent = cloneInt(n.QuantityFromParent)
	return &c
}

// Nodes maps part id to cached node.
type Nodes map[string]*Node

// Get returns the node for id or ErrNotFound.
func (ns Nodes) Get(id string) (*Node, error) {
	n, ok := ns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n, nil
}

// Clone copies the map. Node pointers are shared.
func (ns Nodes) Clone() Nodes {
	out := make(Nodes, len(ns))
	for id, n := range ns {
		out[id] = n
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
