package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/catalog"
	"github.com/agentic-research/partbom/internal/partapi"
	"github.com/stretchr/testify/require"
)

type link struct {
	child string
	qty   int
}

// fakeAPI is an in-memory parts service. Calls are recorded by key
// ("details:ID", "audit:ID", "tree:ID:DEPTH", "search:Q", "create-link:P/C",
// "update-link:P/C", "delete-link:P/C", "create-part:NAME"); a key can be
// made to fail, and its next call can be held on a gate.
type fakeAPI struct {
	mu       sync.Mutex
	parts    map[string]api.PartSummary
	links    map[string][]link
	failures map[string]error
	gates    map[string]chan struct{}
	calls    []string
	nextID   int
}

func newFakeAPI() *fakeAPI {
	f := &fakeAPI{
		parts:    map[string]api.PartSummary{},
		links:    map[string][]link{},
		failures: map[string]error{},
		gates:    map[string]chan struct{}{},
	}
	for _, p := range []api.PartSummary{
		{ID: "PART-0001", PartNumber: "PN-0001", Name: "Bicycle"},
		{ID: "PART-0002", PartNumber: "PN-0002", Name: "Wheel"},
		{ID: "PART-0003", PartNumber: "PN-0003", Name: "Spoke"},
		{ID: "PART-0004", PartNumber: "PN-0004", Name: "Frame"},
		{ID: "PART-0005", PartNumber: "PN-0005", Name: "Saddle"},
	} {
		f.parts[p.ID] = p
	}
	f.links["PART-0001"] = []link{{"PART-0002", 2}, {"PART-0004", 1}}
	f.links["PART-0002"] = []link{{"PART-0003", 4}}
	return f
}

func (f *fakeAPI) fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, key)
		return
	}
	f.failures[key] = err
}

// gate makes the next call with key block until release is called.
// Later calls with the same key pass straight through.
func (f *fakeAPI) gate(key string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[key] == ch {
				delete(f.gates, key)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeAPI) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func (f *fakeAPI) rename(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.parts[id]
	p.Name = name
	f.parts[id] = p
}

// setLinks replaces the children of parent on the server side.
func (f *fakeAPI) setLinks(parent string, ls ...link) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[parent] = ls
}

// enter records a call and returns the failure configured for key at the
// moment of the call, after waiting on its gate if one is set.
func (f *fakeAPI) enter(key string) error {
	f.mu.Lock()
	f.calls = append(f.calls, key)
	gate := f.gates[key]
	delete(f.gates, key)
	err := f.failures[key]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (f *fakeAPI) SearchParts(ctx context.Context, q string) ([]api.PartSummary, error) {
	if err := f.enter("search:" + q); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	q = strings.ToLower(strings.TrimSpace(q))
	out := []api.PartSummary{}
	for _, p := range f.parts {
		if q == "" || strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.PartNumber), q) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b api.PartSummary) int { return strings.Compare(a.PartNumber, b.PartNumber) })
	return out, nil
}

func (f *fakeAPI) GetPartDetails(ctx context.Context, id string) (*api.PartDetails, error) {
	if err := f.enter("details:" + id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.parts[id]
	if !ok {
		return nil, &partapi.HTTPError{StatusCode: 404, Message: "Part not found."}
	}
	d := &api.PartDetails{PartSummary: p, ParentParts: []api.PartSummary{}, ChildParts: []api.ChildPartUsage{}}
	for _, l := range f.links[id] {
		d.ChildParts = append(d.ChildParts, api.ChildPartUsage{PartSummary: f.parts[l.child], Quantity: l.qty})
	}
	for parent, ls := range f.links {
		for _, l := range ls {
			if l.child == id {
				d.ParentParts = append(d.ParentParts, f.parts[parent])
			}
		}
	}
	d.ChildCount = len(d.ChildParts)
	d.ParentCount = len(d.ParentParts)
	return d, nil
}

func (f *fakeAPI) GetPartAuditLogs(ctx context.Context, id string) ([]api.AuditLog, error) {
	if err := f.enter("audit:" + id); err != nil {
		return nil, err
	}
	return []api.AuditLog{{ID: "log-" + id, PartID: id, Action: api.ActionPartCreated, Message: "created"}}, nil
}

func (f *fakeAPI) GetBomTree(ctx context.Context, id string, depth api.Depth, nodeLimit int) (*api.BomTreeResponse, error) {
	if err := f.enter(fmt.Sprintf("tree:%s:%s", id, depth)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.parts[id]; !ok {
		return nil, &partapi.HTTPError{StatusCode: 404, Message: "Part not found."}
	}
	tree := f.buildLocked(id, nil, depth, 0)
	return &api.BomTreeResponse{RootPartID: id, RequestedDepth: depth, NodeLimit: nodeLimit, Tree: tree}, nil
}

func (f *fakeAPI) buildLocked(id string, qty *int, depth api.Depth, level int) api.BomTreeNode {
	n := api.BomTreeNode{
		Part:               f.parts[id],
		QuantityFromParent: qty,
		HasChildren:        len(f.links[id]) > 0,
		Children:           []api.BomTreeNode{},
	}
	if depth.Covers(level) {
		for _, l := range f.links[id] {
			q := l.qty
			n.Children = append(n.Children, f.buildLocked(l.child, &q, depth, level+1))
		}
	}
	return n
}

func (f *fakeAPI) CreatePart(ctx context.Context, req api.CreatePartRequest) (*api.PartRecord, error) {
	if err := f.enter("create-part:" + req.Name); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("PART-1%03d", f.nextID)
	pn := req.PartNumber
	if pn == "" {
		pn = "PN-1" + id[len(id)-3:]
	}
	p := api.PartSummary{ID: id, PartNumber: pn, Name: req.Name}
	f.parts[id] = p
	return &api.PartRecord{PartSummary: p, Description: req.Description}, nil
}

func (f *fakeAPI) CreateBomLink(ctx context.Context, l api.BomLink) error {
	if err := f.enter("create-link:" + l.ParentID + "/" + l.ChildID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[l.ParentID] = append(f.links[l.ParentID], link{l.ChildID, l.Quantity})
	return nil
}

func (f *fakeAPI) UpdateBomLink(ctx context.Context, l api.BomLink) error {
	if err := f.enter("update-link:" + l.ParentID + "/" + l.ChildID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.links[l.ParentID] {
		if f.links[l.ParentID][i].child == l.ChildID {
			f.links[l.ParentID][i].qty = l.Quantity
		}
	}
	return nil
}

func (f *fakeAPI) DeleteBomLink(ctx context.Context, parentID, childID string) error {
	if err := f.enter("delete-link:" + parentID + "/" + childID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[parentID] = slices.DeleteFunc(f.links[parentID], func(l link) bool { return l.child == childID })
	return nil
}

type fixture struct {
	api     *fakeAPI
	catalog *catalog.Index
	session *Session
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	fa := newFakeAPI()
	ix, err := catalog.Open(fa, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Refresh(context.Background()))

	opts := Options{API: fa, Catalog: ix, SearchDebounce: 20 * time.Millisecond}
	for _, m := range mutate {
		m(&opts)
	}
	s := New(opts)
	t.Cleanup(func() {
		s.Close()
		_ = ix.Close()
	})
	return &fixture{api: fa, catalog: ix, session: s}
}

// waitCalled blocks until key has been called at least n times.
func (fx *fixture) waitCalled(t *testing.T, key string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return fx.api.count(key) >= n }, 2*time.Second, 2*time.Millisecond, "waiting for %s", key)
}

func childIDs(d *api.PartDetails) []string {
	var ids []string
	for _, c := range d.ChildParts {
		ids = append(ids, c.ID)
	}
	return ids
}
