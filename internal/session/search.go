package session

import (
	"context"
	"slices"
	"time"

	"github.com/agentic-research/partbom/api"
	"go.uber.org/zap"
)

// SetQuery updates the search text. The first query of a session runs at
// once; later ones run after the debounce interval, and only the last of a
// burst is sent.
func (s *Session) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.search.Query = q
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
	if !s.searched {
		s.searched = true
		go s.runSearch(s.ctx, q)
		return
	}
	s.scheduleSearchLocked(q, s.opts.SearchDebounce)
}

// Search sets the query and runs it at once, dropping any pending debounced
// search. It returns after the results, and any selection change they
// cause, have settled.
func (s *Session) Search(ctx context.Context, q string) {
	s.mu.Lock()
	s.search.Query = q
	s.searched = true
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
	s.mu.Unlock()
	s.runSearch(ctx, q)
}

func (s *Session) scheduleSearchLocked(q string, d time.Duration) {
	s.searchTimer = time.AfterFunc(d, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.runSearch(s.ctx, q)
	})
}

// runSearch fetches matches for q and applies them unless a newer search
// was issued meanwhile. The selection stays put when the selected part is
// still listed and otherwise moves to the first result.
func (s *Session) runSearch(ctx context.Context, q string) {
	s.mu.Lock()
	s.searchGen++
	gen := s.searchGen
	s.search.Loading = true
	s.search.Err = ""
	s.mu.Unlock()

	results, err := s.api.SearchParts(ctx, q)

	s.mu.Lock()
	if gen != s.searchGen {
		s.mu.Unlock()
		s.stale("search", q, gen)
		return
	}
	s.search.Loading = false
	if err != nil {
		s.search.Err = err.Error()
		s.mu.Unlock()
		s.log.Warn("search failed", zap.String("query", q), zap.Error(err))
		return
	}
	s.search.Parts = results
	next := s.selected
	if next == "" || !containsPart(results, next) {
		next = ""
		if len(results) > 0 {
			next = results[0].ID
		}
	}
	changed := next != s.selected
	s.mu.Unlock()

	if changed {
		s.Select(ctx, next)
	}
}

// refreshSearchSilently re-runs the current query and swaps in the results
// without touching the selection or any flags. Failures are ignored.
func (s *Session) refreshSearchSilently(ctx context.Context) {
	s.mu.Lock()
	q := s.search.Query
	gen := s.searchGen
	s.mu.Unlock()

	results, err := s.api.SearchParts(ctx, q)
	if err != nil {
		s.log.Debug("silent search refresh failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.searchGen {
		s.stale("search", q, gen)
		return
	}
	s.search.Parts = results
}

func containsPart(parts []api.PartSummary, id string) bool {
	return slices.ContainsFunc(parts, func(p api.PartSummary) bool { return p.ID == id })
}
