package session

import (
	"context"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/graph"
	"github.com/agentic-research/partbom/internal/metrics"
	"go.uber.org/zap"
)

// Toggle flips the expansion of nodeID and reports whether it is now
// expanded. Expanding a node whose children were never fetched issues a
// one-level fetch and waits for it; the outcome lands on the node itself
// (ChildrenError on failure). Collapsing keeps cached children.
func (s *Session) Toggle(ctx context.Context, nodeID string) (bool, error) {
	s.mu.Lock()
	if s.tree == nil {
		s.mu.Unlock()
		return false, graph.ErrNotFound
	}
	n, err := s.tree.Get(nodeID)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	expanded := s.tree.Expanded.Toggle(nodeID)
	var f childFetch
	load := false
	if expanded && needsChildren(n) {
		f, load = s.beginChildFetchLocked(nodeID)
	}
	s.mu.Unlock()

	if load {
		s.fetchChildren(ctx, nodeID, f)
	}
	return expanded, nil
}

// Expand makes sure nodeID is expanded and, when needed, fetches its
// children. Unlike Toggle it never collapses.
func (s *Session) Expand(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	if s.tree == nil {
		s.mu.Unlock()
		return graph.ErrNotFound
	}
	n, err := s.tree.Get(nodeID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.tree.Expanded.Add(nodeID)
	var f childFetch
	load := false
	if needsChildren(n) {
		f, load = s.beginChildFetchLocked(nodeID)
	}
	s.mu.Unlock()

	if load {
		s.fetchChildren(ctx, nodeID, f)
	}
	return nil
}

// RetryChildren re-issues the one-level fetch for a node whose children
// failed to load. It is a no-op for loaded nodes, leaves, and nodes whose
// fetch is already in flight.
func (s *Session) RetryChildren(ctx context.Context, nodeID string) error {
	s.mu.Lock()
	if s.tree == nil {
		s.mu.Unlock()
		return graph.ErrNotFound
	}
	n, err := s.tree.Get(nodeID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	var f childFetch
	load := false
	if needsChildren(n) {
		f, load = s.beginChildFetchLocked(nodeID)
	}
	s.mu.Unlock()

	if load {
		s.fetchChildren(ctx, nodeID, f)
	}
	return nil
}

func needsChildren(n *graph.Node) bool {
	return n.HasChildren && !n.ChildrenLoaded
}

// childFetch identifies one in-flight child fetch by the generation and
// tree epoch it was issued under.
type childFetch struct {
	gen   uint64
	epoch uint64
}

// beginChildFetchLocked registers a child fetch for nodeID. It reports false
// when one is already in flight.
func (s *Session) beginChildFetchLocked(nodeID string) (childFetch, bool) {
	if _, busy := s.fetching[nodeID]; busy {
		return childFetch{}, false
	}
	if !s.tree.MarkLoading(nodeID) {
		return childFetch{}, false
	}
	f := childFetch{gen: s.gen, epoch: s.epoch}
	s.fetching[nodeID] = f
	return f, true
}

// fetchChildren loads one level below nodeID and commits it only if no
// selection change or refresh has superseded it and the node is still cached.
// A fetch overtaken by a refresh is reissued while the node stays expanded
// and unloaded.
func (s *Session) fetchChildren(ctx context.Context, nodeID string, f childFetch) {
	for {
		resp, err := s.api.GetBomTree(ctx, nodeID, 1, s.opts.NodeLimit)

		s.mu.Lock()
		next, again := s.commitChildrenLocked(nodeID, f, resp, err)
		s.mu.Unlock()
		if !again {
			return
		}
		f = next
	}
}

func (s *Session) commitChildrenLocked(nodeID string, f childFetch, resp *api.BomTreeResponse, err error) (childFetch, bool) {
	if cur, ok := s.fetching[nodeID]; !ok || cur != f || s.tree == nil || s.epoch != f.epoch {
		metrics.RecordStale("children")
		s.log.Debug("discarding children for replaced tree", zap.String("node", nodeID))
		return childFetch{}, false
	}
	delete(s.fetching, nodeID)
	n, ok := s.tree.Nodes[nodeID]
	if !ok {
		metrics.RecordStale("children")
		s.log.Debug("discarding children for pruned node", zap.String("node", nodeID))
		return childFetch{}, false
	}
	if s.gen != f.gen {
		metrics.RecordStale("children")
		s.log.Debug("discarding children from before a refresh", zap.String("node", nodeID))
		s.tree.StopLoading(nodeID)
		if !s.tree.Expanded.Has(nodeID) || !needsChildren(n) {
			return childFetch{}, false
		}
		return s.beginChildFetchLocked(nodeID)
	}
	metrics.RecordViewLoad("children", err)

	if err != nil {
		s.log.Warn("loading children failed", zap.String("node", nodeID), zap.Error(err))
		_ = s.tree.FailChildren(nodeID, err.Error())
		return childFetch{}, false
	}
	_ = s.tree.ApplyChildren(nodeID, graph.Normalize(resp.Tree, api.Depth(1)))
	metrics.CachedNodes.Set(float64(len(s.tree.Nodes)))
	return childFetch{}, false
}
