package graph

import "slices"

// Merge folds incoming (a Normalize result, possibly for a subtree) into
// current and returns the merged map. Neither argument is modified.
//
// Rules per id in incoming:
//   - the incoming node replaces the current one, except that a current node
//     that is already loaded keeps its ChildIDs and stays loaded when the
//     incoming copy is not loaded (a shallow re-fetch of an ancestor must not
//     truncate a deeper subtree);
//   - QuantityFromParent falls back to the current value when incoming has none;
//   - ChildrenError and LoadingChildren are always reset.
//
// Ids present only in current keep the exact same *Node.
func Merge(current, incoming Nodes) Nodes {
	next := make(Nodes, len(current)+len(incoming))
	for id, n := range current {
		next[id] = n
	}

	for id, in := range incoming {
		merged := in.Clone()
		if existing, ok := current[id]; ok {
			if existing.ChildrenLoaded && !in.ChildrenLoaded {
				merged.ChildIDs = slices.Clone(existing.ChildIDs)
				merged.ChildrenLoaded = true
			}
			if merged.QuantityFromParent == nil {
				merged.QuantityFromParent = cloneInt(existing.QuantityFromParent)
			}
		}
		merged.ChildrenError = ""
		merged.LoadingChildren = false
		next[id] = merged
	}

	return next
}
