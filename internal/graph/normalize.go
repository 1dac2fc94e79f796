package graph

import "github.com/agentic-research/partbom/api"

// Normalize flattens one depth-bounded tree response into a Nodes map
// covering the root and every node transitively present in it.
//
// A node is marked loaded when it has no children, or when it sits above the
// requested depth so the response necessarily carried its children. A node on
// the boundary with HasChildren set and no children in the payload is not
// loaded: its children exist remotely but were not fetched.
//
// Normalize is pure. The remote side bounds the depth and guarantees the tree
// is acyclic, so there is no cycle detection.
func Normalize(root api.BomTreeNode, depth api.Depth) Nodes {
	out := make(Nodes)
	normalizeInto(out, &root, depth, 0)
	return out
}

func normalizeInto(out Nodes, n *api.BomTreeNode, depth api.Depth, level int) {
	childIDs := make([]string, 0, len(n.Children))
	for i := range n.Children {
		childIDs = append(childIDs, n.Children[i].Part.ID)
	}

	out[n.Part.ID] = &Node{
		Part:               n.Part,
		QuantityFromParent: cloneInt(n.QuantityFromParent),
		HasChildren:        n.HasChildren,
		ChildIDs:           childIDs,
		ChildrenLoaded:     !n.HasChildren || depth.Covers(level),
	}

	for i := range n.Children {
		normalizeInto(out, &n.Children[i], depth, level+1)
	}
}
