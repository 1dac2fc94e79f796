package graph

import (
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// ExpansionSet records which node ids are expanded in the current view.
//
// Ids are interned to dense uint32 ordinals so membership lives in a roaring
// bitmap and reconciliation against a fresh fetch is a single AND. Ordinals
// are never reused; a set is dropped wholesale when the selection changes.
type ExpansionSet struct {
	ordinals map[string]uint32
	ids      []string
	bm       *roaring.Bitmap
}

func NewExpansionSet(ids ...string) *ExpansionSet {
	s := &ExpansionSet{
		ordinals: make(map[string]uint32),
		bm:       roaring.New(),
	}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *ExpansionSet) intern(id string) uint32 {
	if ord, ok := s.ordinals[id]; ok {
		return ord
	}
	ord := uint32(len(s.ids))
	s.ordinals[id] = ord
	s.ids = append(s.ids, id)
	return ord
}

func (s *ExpansionSet) Add(id string) {
	s.bm.Add(s.intern(id))
}

func (s *ExpansionSet) Remove(id string) {
	if ord, ok := s.ordinals[id]; ok {
		s.bm.Remove(ord)
	}
}

func (s *ExpansionSet) Has(id string) bool {
	ord, ok := s.ordinals[id]
	return ok && s.bm.Contains(ord)
}

// Toggle flips membership of id and reports whether it is now expanded.
func (s *ExpansionSet) Toggle(id string) bool {
	ord := s.intern(id)
	if s.bm.CheckedRemove(ord) {
		return false
	}
	s.bm.Add(ord)
	return true
}

func (s *ExpansionSet) Len() int {
	return int(s.bm.GetCardinality())
}

// IDs returns the expanded ids in lexical order.
func (s *ExpansionSet) IDs() []string {
	out := make([]string, 0, s.bm.GetCardinality())
	it := s.bm.Iterator()
	for it.HasNext() {
		out = append(out, s.ids[it.Next()])
	}
	slices.Sort(out)
	return out
}

// Retain drops every expanded id that is not a key of present.
func (s *ExpansionSet) Retain(present Nodes) {
	keep := roaring.New()
	for id := range present {
		if ord, ok := s.ordinals[id]; ok {
			keep.Add(ord)
		}
	}
	s.bm.And(keep)
}

// Clone returns an independent copy.
func (s *ExpansionSet) Clone() *ExpansionSet {
	ordinals := make(map[string]uint32, len(s.ordinals))
	for id, ord := range s.ordinals {
		ordinals[id] = ord
	}
	return &ExpansionSet{
		ordinals: ordinals,
		ids:      slices.Clone(s.ids),
		bm:       s.bm.Clone(),
	}
}
