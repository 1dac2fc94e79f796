package session

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/metrics"
	"github.com/agentic-research/partbom/internal/validate"
	"go.uber.org/zap"
)

var ErrNoSelection = errors.New("no part selected")

// SelectionError is returned by link writes issued with nothing selected.
type SelectionError struct {
	Op string // "creating", "updating" or "deleting"
}

func (e *SelectionError) Error() string {
	return "Select a parent part before " + e.Op + " a BOM link."
}

func (e *SelectionError) Is(target error) bool {
	return target == ErrNoSelection
}

// CreateLink links childID under the selected part.
//
// Validation failures return validate.FieldErrors and touch nothing. A
// failed write sets the mutation error and changes nothing else. On success
// the details view is patched at once (when the child is a known part) and a
// full refresh follows before CreateLink returns.
func (s *Session) CreateLink(ctx context.Context, childID string, quantity int) error {
	if err := validate.LinkValues(childID, quantity); err != nil {
		return err
	}
	childID = strings.TrimSpace(childID)

	parentID, err := s.beginMutation("creating")
	if err != nil {
		return err
	}
	err = s.api.CreateBomLink(ctx, api.BomLink{ParentID: parentID, ChildID: childID, Quantity: quantity})
	if err != nil {
		return s.endMutation("create_link", err)
	}

	if part, ok := s.lookupPart(ctx, childID); ok {
		s.patchChildren(parentID, func(children []api.ChildPartUsage) []api.ChildPartUsage {
			if i := indexChild(children, childID); i >= 0 {
				children[i].Quantity = quantity
				return children
			}
			children = append(children, api.ChildPartUsage{PartSummary: part, Quantity: quantity})
			slices.SortStableFunc(children, func(a, b api.ChildPartUsage) int {
				return strings.Compare(a.PartNumber, b.PartNumber)
			})
			return children
		})
	}

	s.Refresh(ctx, RefreshOptions{})
	return s.endMutation("create_link", nil)
}

// UpdateLink changes the quantity of an existing link under the selection.
func (s *Session) UpdateLink(ctx context.Context, childID string, quantity int) error {
	if err := validate.LinkValues(childID, quantity); err != nil {
		return err
	}
	childID = strings.TrimSpace(childID)

	parentID, err := s.beginMutation("updating")
	if err != nil {
		return err
	}
	err = s.api.UpdateBomLink(ctx, api.BomLink{ParentID: parentID, ChildID: childID, Quantity: quantity})
	if err != nil {
		return s.endMutation("update_link", err)
	}

	s.patchChildren(parentID, func(children []api.ChildPartUsage) []api.ChildPartUsage {
		if i := indexChild(children, childID); i >= 0 {
			children[i].Quantity = quantity
		}
		return children
	})

	s.Refresh(ctx, RefreshOptions{})
	return s.endMutation("update_link", nil)
}

// DeleteLink removes childID from under the selection.
func (s *Session) DeleteLink(ctx context.Context, childID string) error {
	if err := validate.ChildValue(childID); err != nil {
		return err
	}
	childID = strings.TrimSpace(childID)

	parentID, err := s.beginMutation("deleting")
	if err != nil {
		return err
	}
	if err := s.api.DeleteBomLink(ctx, parentID, childID); err != nil {
		return s.endMutation("delete_link", err)
	}

	s.patchChildren(parentID, func(children []api.ChildPartUsage) []api.ChildPartUsage {
		return slices.DeleteFunc(children, func(c api.ChildPartUsage) bool { return c.ID == childID })
	})

	s.Refresh(ctx, RefreshOptions{})
	return s.endMutation("delete_link", nil)
}

// CreatePart creates a part, lists it, clears the search text and selects
// it. The details view starts from the created record with zero link
// counts until the selection load replaces it.
func (s *Session) CreatePart(ctx context.Context, form validate.PartForm) (api.PartSummary, error) {
	rec, err := s.createPart(ctx, form)
	if err != nil {
		return api.PartSummary{}, err
	}
	summary := rec.PartSummary

	s.mu.Lock()
	s.search.Query = ""
	if s.searchTimer != nil {
		s.searchTimer.Stop()
	}
	s.scheduleSearchLocked("", s.opts.SearchDebounce)
	gen := s.beginSelectLocked(summary.ID)
	s.details.Data = &api.PartDetails{
		PartSummary: summary,
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		ParentParts: []api.PartSummary{},
		ChildParts:  []api.ChildPartUsage{},
	}
	s.mu.Unlock()

	s.loadViews(ctx, summary.ID, gen, modeSelect)
	return summary, nil
}

// CreatePartForLink creates a part and lists it without changing the
// selection, so it can be linked under the current part next.
func (s *Session) CreatePartForLink(ctx context.Context, form validate.PartForm) (api.PartSummary, error) {
	rec, err := s.createPart(ctx, form)
	if err != nil {
		return api.PartSummary{}, err
	}
	return rec.PartSummary, nil
}

func (s *Session) createPart(ctx context.Context, form validate.PartForm) (*api.PartRecord, error) {
	req, err := validate.Part(form)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.search.CreateLoading = true
	s.search.CreateErr = ""
	s.search.Err = ""
	s.mu.Unlock()

	rec, err := s.api.CreatePart(ctx, req)
	metrics.RecordMutation("create_part", err)

	s.mu.Lock()
	s.search.CreateLoading = false
	if err != nil {
		s.search.CreateErr = err.Error()
		s.mu.Unlock()
		s.log.Warn("create part failed", zap.Error(err))
		return nil, err
	}
	s.search.Parts = upsertSorted(s.search.Parts, rec.PartSummary)
	s.mu.Unlock()

	if s.catalog != nil {
		if err := s.catalog.Upsert(ctx, rec.PartSummary); err != nil {
			s.log.Warn("catalog upsert failed", zap.String("part", rec.ID), zap.Error(err))
		}
	}
	return rec, nil
}

func (s *Session) ClearMutationError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treeView.MutationErr = ""
}

func (s *Session) ClearCreatePartError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search.CreateErr = ""
}

// LinkCandidates lists the catalog parts that can be linked under the
// selection: everything except the selection and its current children.
func (s *Session) LinkCandidates(ctx context.Context) ([]api.PartSummary, error) {
	s.mu.Lock()
	rootID := s.selected
	var linked []string
	if d := s.details.Data; d != nil && d.ID == rootID {
		for _, c := range d.ChildParts {
			linked = append(linked, c.ID)
		}
	}
	s.mu.Unlock()

	if rootID == "" {
		return nil, ErrNoSelection
	}
	if s.catalog == nil {
		return []api.PartSummary{}, nil
	}
	return s.catalog.Candidates(ctx, rootID, linked)
}

func (s *Session) beginMutation(op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == "" {
		err := &SelectionError{Op: op}
		s.treeView.MutationErr = err.Error()
		return "", err
	}
	s.treeView.MutationLoading = true
	s.treeView.MutationErr = ""
	return s.selected, nil
}

func (s *Session) endMutation(op string, err error) error {
	metrics.RecordMutation(op, err)
	s.mu.Lock()
	s.treeView.MutationLoading = false
	if err != nil {
		s.treeView.MutationErr = err.Error()
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("mutation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

// patchChildren rewrites the child links in the details view of parentID,
// if that view is still showing it. The details record is copied, never
// edited in place.
func (s *Session) patchChildren(parentID string, update func([]api.ChildPartUsage) []api.ChildPartUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.details.Data
	if d == nil || d.ID != parentID || s.selected != parentID {
		return
	}
	next := *d
	next.ChildParts = update(slices.Clone(d.ChildParts))
	next.ChildCount = len(next.ChildParts)
	s.details.Data = &next
}

// lookupPart finds a part summary in the catalog, then in the search results.
func (s *Session) lookupPart(ctx context.Context, id string) (api.PartSummary, bool) {
	if s.catalog != nil {
		if p, err := s.catalog.Lookup(ctx, id); err == nil {
			return p, true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := slices.IndexFunc(s.search.Parts, func(p api.PartSummary) bool { return p.ID == id }); i >= 0 {
		return s.search.Parts[i], true
	}
	return api.PartSummary{}, false
}

func indexChild(children []api.ChildPartUsage, id string) int {
	return slices.IndexFunc(children, func(c api.ChildPartUsage) bool { return c.ID == id })
}
