// Package session is the client-side cache for one operator: the current
// search, the selected part with its details, audit log and BOM tree, and
// the write operations that keep them consistent with the service.
//
// All state lives behind one mutex. Remote calls run without the lock held
// and commit afterwards, each checked against the generation it was issued
// under so results from a superseded selection or refresh are dropped.
package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/catalog"
	"github.com/agentic-research/partbom/internal/events"
	"github.com/agentic-research/partbom/internal/graph"
	"github.com/agentic-research/partbom/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// API is the subset of the parts service the session needs.
type API interface {
	SearchParts(ctx context.Context, query string) ([]api.PartSummary, error)
	GetPartDetails(ctx context.Context, id string) (*api.PartDetails, error)
	GetPartAuditLogs(ctx context.Context, id string) ([]api.AuditLog, error)
	GetBomTree(ctx context.Context, id string, depth api.Depth, nodeLimit int) (*api.BomTreeResponse, error)
	CreatePart(ctx context.Context, req api.CreatePartRequest) (*api.PartRecord, error)
	CreateBomLink(ctx context.Context, link api.BomLink) error
	UpdateBomLink(ctx context.Context, link api.BomLink) error
	DeleteBomLink(ctx context.Context, parentID, childID string) error
}

const DefaultSearchDebounce = 280 * time.Millisecond

type Options struct {
	API     API
	Catalog *catalog.Index // optional
	Bus     *events.Bus    // optional
	Logger  *zap.Logger

	InitialDepth   api.Depth // depth of the tree fetched on selection and refresh; default 1
	NodeLimit      int       // passed through to tree fetches when positive
	SearchDebounce time.Duration
}

// View is one independently loaded slice of the selection.
type View[T any] struct {
	Data    T      `json:"data"`
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
}

type SearchView struct {
	Query         string            `json:"query"`
	Parts         []api.PartSummary `json:"parts"`
	Loading       bool              `json:"loading"`
	Err           string            `json:"error,omitempty"`
	CreateLoading bool              `json:"createLoading"`
	CreateErr     string            `json:"createError,omitempty"`
}

type TreeView struct {
	Tree            *graph.Tree // nil until a tree has loaded
	Loading         bool
	Err             string
	MutationLoading bool
	MutationErr     string
}

// Snapshot is a point-in-time copy of the session state. Pointers it holds
// are never mutated by the session afterwards; callers must not mutate them
// either.
type Snapshot struct {
	SelectedID   string
	SelectedPart *api.PartSummary
	Search       SearchView
	Details      View[*api.PartDetails]
	Audit        View[[]api.AuditLog]
	Tree         TreeView
}

type loadMode int

const (
	modeSelect loadMode = iota
	modeRefresh
	modeSilent
)

func (m loadMode) String() string {
	switch m {
	case modeSelect:
		return "select"
	case modeRefresh:
		return "refresh"
	default:
		return "silent"
	}
}

type Session struct {
	api     API
	catalog *catalog.Index
	log     *zap.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()

	mu sync.Mutex

	// gen advances on every selection change and every non-silent refresh.
	// epoch advances only when the tree is replaced wholesale.
	gen   uint64
	epoch uint64

	selected string
	details  View[*api.PartDetails]
	audit    View[[]api.AuditLog]
	tree     *graph.Tree
	treeView TreeView // flags only; Snapshot fills in Tree

	// fetching holds the one-level child fetches in flight, by node id.
	fetching map[string]childFetch

	search      SearchView
	searchGen   uint64
	searched    bool
	searchTimer *time.Timer
}

func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.InitialDepth == 0 {
		opts.InitialDepth = 1
	}
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		api:      opts.API,
		catalog:  opts.Catalog,
		log:      opts.Logger.Named("session"),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		fetching: map[string]childFetch{},
	}
	s.audit.Data = []api.AuditLog{}
	s.search.Parts = []api.PartSummary{}

	if opts.Bus != nil {
		s.unsubs = append(s.unsubs, opts.Bus.Subscribe(events.TopicFocus, s.onFocus))
		if s.catalog != nil {
			s.unsubs = append(s.unsubs, s.catalog.Watch(ctx, opts.Bus))
		}
	}
	return s
}

// Start loads the catalog in the background and runs the initial, empty
// search, which selects the first part listed.
func (s *Session) Start(ctx context.Context) {
	if s.catalog != nil {
		go func() { _ = s.catalog.Refresh(s.ctx) }()
	}
	s.mu.Lock()
	s.searched = true
	q := s.search.Query
	s.mu.Unlock()
	s.runSearch(ctx, q)
}

// Close stops background work and detaches from the event bus. In-flight
// calls finish on their own; their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	if s.searchTimer != nil {
		s.searchTimer.Stop()
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.cancel()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		SelectedID: s.selected,
		Search:     s.search,
		Details:    s.details,
		Audit:      s.audit,
		Tree:       s.treeView,
	}
	snap.Search.Parts = slices.Clone(s.search.Parts)
	snap.Audit.Data = slices.Clone(s.audit.Data)
	if s.tree != nil {
		snap.Tree.Tree = s.tree.Clone()
	}
	s.mu.Unlock()

	snap.SelectedPart = s.resolvePart(snap.SelectedID, snap.Details.Data, snap.Search.Parts)
	return snap
}

// SelectedID returns the id of the selected part, or "" when idle.
func (s *Session) SelectedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// resolvePart finds the summary for id in the details view, the search
// results or the catalog, in that order.
func (s *Session) resolvePart(id string, details *api.PartDetails, results []api.PartSummary) *api.PartSummary {
	if id == "" {
		return nil
	}
	if details != nil && details.ID == id {
		p := details.Summary()
		return &p
	}
	if i := slices.IndexFunc(results, func(p api.PartSummary) bool { return p.ID == id }); i >= 0 {
		p := results[i]
		return &p
	}
	if s.catalog != nil {
		if p, err := s.catalog.Lookup(s.ctx, id); err == nil {
			return &p
		}
	}
	return nil
}

// Select makes id the current selection and loads its details, audit log
// and tree concurrently. Each view commits as soon as its own fetch
// settles. Select returns once all three have settled. An empty id clears
// the selection.
func (s *Session) Select(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	gen := s.beginSelectLocked(id)
	s.mu.Unlock()

	if id != "" {
		s.loadViews(ctx, id, gen, modeSelect)
	}
}

func (s *Session) beginSelectLocked(id string) uint64 {
	s.gen++
	s.epoch++
	s.selected = id
	s.tree = nil
	clear(s.fetching)
	s.treeView = TreeView{}
	s.details = View[*api.PartDetails]{}
	s.audit = View[[]api.AuditLog]{Data: []api.AuditLog{}}
	metrics.CachedNodes.Set(0)
	if id != "" {
		s.details.Loading = true
		s.audit.Loading = true
		s.treeView.Loading = true
	}
	return s.gen
}

type RefreshOptions struct {
	// Silent leaves loading flags alone and drops failures, keeping the
	// current data. It does not supersede loads already in flight.
	Silent bool
}

// Refresh re-fetches all three views for the current selection. On failure
// a view keeps its previous data and records the error.
func (s *Session) Refresh(ctx context.Context, opts RefreshOptions) {
	s.mu.Lock()
	id := s.selected
	if id == "" {
		s.mu.Unlock()
		return
	}
	mode := modeSilent
	if !opts.Silent {
		mode = modeRefresh
		s.gen++
		s.details.Loading = true
		s.audit.Loading = true
		s.treeView.Loading = true
		s.treeView.MutationErr = ""
	}
	gen := s.gen
	s.mu.Unlock()

	s.loadViews(ctx, id, gen, mode)
}

func (s *Session) loadViews(ctx context.Context, id string, gen uint64, mode loadMode) {
	s.log.Debug("loading views", zap.String("part", id), zap.Uint64("gen", gen), zap.Stringer("mode", mode))

	// errgroup without a context: one view failing must not cancel the others.
	var g errgroup.Group
	g.Go(func() error {
		d, err := s.api.GetPartDetails(ctx, id)
		s.commitDetails(id, gen, mode, d, err)
		return nil
	})
	g.Go(func() error {
		logs, err := s.api.GetPartAuditLogs(ctx, id)
		s.commitAudit(id, gen, mode, logs, err)
		return nil
	})
	g.Go(func() error {
		resp, err := s.api.GetBomTree(ctx, id, s.opts.InitialDepth, s.opts.NodeLimit)
		s.commitTree(id, gen, mode, resp, err)
		return nil
	})
	_ = g.Wait()
}

func (s *Session) currentLocked(id string, gen uint64) bool {
	return s.selected == id && s.gen == gen
}

func (s *Session) stale(kind, id string, gen uint64) {
	metrics.RecordStale(kind)
	s.log.Debug("discarding stale result", zap.String("view", kind), zap.String("part", id), zap.Uint64("gen", gen))
}

func (s *Session) viewFailed(view, id string, mode loadMode, err error) {
	if mode == modeSilent {
		s.log.Debug("silent refresh failed", zap.String("view", view), zap.String("part", id), zap.Error(err))
		return
	}
	s.log.Warn("view load failed", zap.String("view", view), zap.String("part", id), zap.Stringer("mode", mode), zap.Error(err))
}

func (s *Session) commitDetails(id string, gen uint64, mode loadMode, d *api.PartDetails, err error) {
	s.mu.Lock()
	if !s.currentLocked(id, gen) {
		s.mu.Unlock()
		s.stale("details", id, gen)
		return
	}
	metrics.RecordViewLoad("details", err)

	var synced *api.PartSummary
	switch {
	case err == nil:
		s.details.Data = d
		s.details.Err = ""
		if mode != modeSilent {
			s.details.Loading = false
		}
		if mode != modeSelect {
			p := d.Summary()
			synced = &p
			s.upsertResultLocked(p, false)
		}
	case mode == modeSilent:
	case mode == modeRefresh:
		s.details.Err = err.Error()
		s.details.Loading = false
	default:
		s.details = View[*api.PartDetails]{Err: err.Error()}
	}
	s.mu.Unlock()

	if err != nil {
		s.viewFailed("details", id, mode, err)
	}
	if synced != nil && s.catalog != nil {
		if err := s.catalog.Upsert(s.ctx, *synced); err != nil {
			s.log.Warn("catalog upsert failed", zap.String("part", synced.ID), zap.Error(err))
		}
	}
}

func (s *Session) commitAudit(id string, gen uint64, mode loadMode, logs []api.AuditLog, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(id, gen) {
		s.stale("audit", id, gen)
		return
	}
	metrics.RecordViewLoad("audit", err)

	switch {
	case err == nil:
		s.audit.Data = logs
		s.audit.Err = ""
		if mode != modeSilent {
			s.audit.Loading = false
		}
	case mode == modeSilent:
	case mode == modeRefresh:
		s.audit.Err = err.Error()
		s.audit.Loading = false
	default:
		s.audit = View[[]api.AuditLog]{Data: []api.AuditLog{}, Err: err.Error()}
	}
	if err != nil {
		s.viewFailed("audit", id, mode, err)
	}
}

func (s *Session) commitTree(id string, gen uint64, mode loadMode, resp *api.BomTreeResponse, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(id, gen) {
		s.stale("tree", id, gen)
		return
	}
	metrics.RecordViewLoad("tree", err)

	switch {
	case err == nil:
		rootID := resp.Tree.Part.ID
		nodes := graph.Normalize(resp.Tree, s.opts.InitialDepth)
		if mode == modeSelect || s.tree == nil || s.tree.RootID != rootID {
			s.epoch++
			s.tree = graph.NewTree(rootID, nodes)
			clear(s.fetching)
		} else {
			s.tree.Refresh(nodes)
			for nodeID := range s.fetching {
				s.tree.MarkLoading(nodeID)
			}
		}
		s.treeView.Err = ""
		if mode != modeSilent {
			s.treeView.Loading = false
		}
		metrics.CachedNodes.Set(float64(len(s.tree.Nodes)))
	case mode == modeSilent:
	case mode == modeRefresh:
		s.treeView.Err = err.Error()
		s.treeView.Loading = false
	default:
		s.epoch++
		s.tree = nil
		clear(s.fetching)
		s.treeView.Err = err.Error()
		s.treeView.Loading = false
	}
	if err != nil {
		s.viewFailed("tree", id, mode, err)
	}
}

// upsertResultLocked replaces p in the search results, keeping them sorted
// by part number. With insert unset, parts not already listed are skipped.
func (s *Session) upsertResultLocked(p api.PartSummary, insert bool) {
	i := slices.IndexFunc(s.search.Parts, func(r api.PartSummary) bool { return r.ID == p.ID })
	if i < 0 && !insert {
		return
	}
	s.search.Parts = upsertSorted(s.search.Parts, p)
}

func upsertSorted(parts []api.PartSummary, p api.PartSummary) []api.PartSummary {
	out := make([]api.PartSummary, 0, len(parts)+1)
	for _, r := range parts {
		if r.ID != p.ID {
			out = append(out, r)
		}
	}
	out = append(out, p)
	slices.SortStableFunc(out, func(a, b api.PartSummary) int {
		return strings.Compare(a.PartNumber, b.PartNumber)
	})
	return out
}

func (s *Session) onFocus(events.Topic) {
	go func() {
		s.refreshSearchSilently(s.ctx)
		s.Refresh(s.ctx, RefreshOptions{Silent: true})
	}()
}
