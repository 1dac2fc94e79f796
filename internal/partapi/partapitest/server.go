// Package partapitest provides an in-memory parts service over httptest for
// tests that drive partapi.Client end to end.
package partapitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentic-research/partbom/api"
)

type link struct {
	child string
	qty   int
}

// Service is the fake service state. Seed it with AddPart and Link before
// issuing calls.
type Service struct {
	mu     sync.Mutex
	parts  map[string]api.PartRecord
	links  map[string][]link
	audit  map[string][]api.AuditLog
	nextID int
	now    func() time.Time
}

func NewService() *Service {
	return &Service{
		parts: map[string]api.PartRecord{},
		links: map[string][]link{},
		audit: map[string][]api.AuditLog{},
		now:   func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

// Bicycle seeds PART-0001 Bicycle -> {PART-0002 Wheel x2, PART-0004 Frame x1},
// PART-0002 -> PART-0003 Spoke x32, and an unlinked PART-0005 Saddle.
func Bicycle() *Service {
	s := NewService()
	for _, p := range []struct{ id, name string }{
		{"PART-0001", "Bicycle"},
		{"PART-0002", "Wheel"},
		{"PART-0003", "Spoke"},
		{"PART-0004", "Frame"},
		{"PART-0005", "Saddle"},
	} {
		s.AddPart(api.PartSummary{ID: p.id, PartNumber: "PN-" + p.id[5:], Name: p.name})
	}
	s.Link("PART-0001", "PART-0002", 2)
	s.Link("PART-0001", "PART-0004", 1)
	s.Link("PART-0002", "PART-0003", 32)
	return s
}

func (s *Service) AddPart(p api.PartSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().Format(time.RFC3339)
	s.parts[p.ID] = api.PartRecord{PartSummary: p, CreatedAt: ts, UpdatedAt: ts}
	s.logLocked(p.ID, api.ActionPartCreated, "Part created")
}

func (s *Service) Link(parent, child string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[parent] = append(s.links[parent], link{child, qty})
}

// Quantity reports the current link quantity, or 0 when unlinked.
func (s *Service) Quantity(parent, child string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links[parent] {
		if l.child == child {
			return l.qty
		}
	}
	return 0
}

// Start serves the service on a new httptest server. Close it when done.
func (s *Service) Start() *httptest.Server {
	return httptest.NewServer(s.Handler())
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /parts", s.search)
	mux.HandleFunc("POST /parts", s.createPart)
	mux.HandleFunc("GET /parts/{id}", s.details)
	mux.HandleFunc("GET /parts/{id}/audit-logs", s.auditLogs)
	mux.HandleFunc("GET /bom/{id}", s.tree)
	mux.HandleFunc("POST /bom/links", s.createLink)
	mux.HandleFunc("PUT /bom/links", s.updateLink)
	mux.HandleFunc("DELETE /bom/links/{parent}/{child}", s.deleteLink)
	return mux
}

func (s *Service) search(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	s.mu.Lock()
	out := []api.PartSummary{}
	for _, p := range s.parts {
		if q == "" || strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.PartNumber), q) {
			out = append(out, p.PartSummary)
		}
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b api.PartSummary) int { return strings.Compare(a.PartNumber, b.PartNumber) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) details(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.parts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Part not found.")
		return
	}
	d := api.PartDetails{
		PartSummary: p.PartSummary,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		ParentParts: []api.PartSummary{},
		ChildParts:  []api.ChildPartUsage{},
	}
	for _, l := range s.links[id] {
		d.ChildParts = append(d.ChildParts, api.ChildPartUsage{PartSummary: s.parts[l.child].PartSummary, Quantity: l.qty})
	}
	for parent, ls := range s.links {
		if slices.ContainsFunc(ls, func(l link) bool { return l.child == id }) {
			d.ParentParts = append(d.ParentParts, s.parts[parent].PartSummary)
		}
	}
	slices.SortFunc(d.ParentParts, func(a, b api.PartSummary) int { return strings.Compare(a.PartNumber, b.PartNumber) })
	d.ChildCount = len(d.ChildParts)
	d.ParentCount = len(d.ParentParts)
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) auditLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[id]; !ok {
		writeError(w, http.StatusNotFound, "Part not found.")
		return
	}
	logs := slices.Clone(s.audit[id])
	slices.Reverse(logs)
	if logs == nil {
		logs = []api.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Service) tree(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	depth := api.Depth(1)
	if v := r.URL.Query().Get("depth"); v != "" {
		d, err := api.ParseDepth(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		depth = d
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("nodeLimit"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parts[id]; !ok {
		writeError(w, http.StatusNotFound, "Part not found.")
		return
	}
	count := 0
	root := s.buildLocked(id, nil, depth, 0, &count)
	writeJSON(w, http.StatusOK, api.BomTreeResponse{
		RootPartID:     id,
		RequestedDepth: depth,
		NodeLimit:      limit,
		NodeCount:      count,
		Tree:           root,
	})
}

func (s *Service) buildLocked(id string, qty *int, depth api.Depth, level int, count *int) api.BomTreeNode {
	*count++
	n := api.BomTreeNode{
		Part:               s.parts[id].PartSummary,
		QuantityFromParent: qty,
		HasChildren:        len(s.links[id]) > 0,
		Children:           []api.BomTreeNode{},
	}
	if depth.Covers(level) {
		for _, l := range s.links[id] {
			q := l.qty
			n.Children = append(n.Children, s.buildLocked(l.child, &q, depth, level+1, count))
		}
	}
	return n
}

func (s *Service) createPart(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Part name is required.")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("PART-9%03d", s.nextID)
	pn := req.PartNumber
	if pn == "" {
		pn = "PN-9" + id[6:]
	}
	for _, p := range s.parts {
		if p.PartNumber == pn {
			writeError(w, http.StatusConflict, "Part number already exists.")
			return
		}
	}
	ts := s.now().Format(time.RFC3339)
	rec := api.PartRecord{
		PartSummary: api.PartSummary{ID: id, PartNumber: pn, Name: req.Name},
		Description: req.Description,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	s.parts[id] = rec
	s.logLocked(id, api.ActionPartCreated, "Part created")
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Service) createLink(w http.ResponseWriter, r *http.Request) {
	l, ok := s.decodeLink(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ParentID == l.ChildID {
		writeError(w, http.StatusBadRequest, "A part cannot contain itself.")
		return
	}
	if _, ok := s.parts[l.ChildID]; !ok {
		writeError(w, http.StatusNotFound, "Part not found.")
		return
	}
	if slices.ContainsFunc(s.links[l.ParentID], func(x link) bool { return x.child == l.ChildID }) {
		writeError(w, http.StatusConflict, "Link already exists.")
		return
	}
	s.links[l.ParentID] = append(s.links[l.ParentID], link{l.ChildID, l.Quantity})
	s.logLocked(l.ParentID, api.ActionLinkCreated, "Linked "+l.ChildID)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Service) updateLink(w http.ResponseWriter, r *http.Request) {
	l, ok := s.decodeLink(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ls := s.links[l.ParentID]
	i := slices.IndexFunc(ls, func(x link) bool { return x.child == l.ChildID })
	if i < 0 {
		writeError(w, http.StatusNotFound, "Link not found.")
		return
	}
	ls[i].qty = l.Quantity
	s.logLocked(l.ParentID, api.ActionLinkUpdated, "Updated "+l.ChildID)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) deleteLink(w http.ResponseWriter, r *http.Request) {
	parent, child := r.PathValue("parent"), r.PathValue("child")
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.links[parent])
	s.links[parent] = slices.DeleteFunc(s.links[parent], func(x link) bool { return x.child == child })
	if len(s.links[parent]) == before {
		writeError(w, http.StatusNotFound, "Link not found.")
		return
	}
	s.logLocked(parent, api.ActionLinkRemoved, "Unlinked "+child)
	w.WriteHeader(http.StatusNoContent)
}

// decodeLink parses a link body and checks the part ids and quantity.
func (s *Service) decodeLink(w http.ResponseWriter, r *http.Request) (api.BomLink, bool) {
	var l api.BomLink
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return l, false
	}
	if l.Quantity < 1 {
		writeErrors(w, http.StatusBadRequest, []string{"quantity must not be less than 1"})
		return l, false
	}
	s.mu.Lock()
	_, ok := s.parts[l.ParentID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Part not found.")
		return l, false
	}
	return l, true
}

func (s *Service) logLocked(id string, action api.AuditAction, msg string) {
	entry := api.AuditLog{
		ID:        fmt.Sprintf("log-%s-%d", id, len(s.audit[id])+1),
		PartID:    id,
		Action:    action,
		Message:   msg,
		Timestamp: s.now().Format(time.RFC3339),
	}
	s.audit[id] = append(s.audit[id], entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": msg})
}

// writeErrors mimics validation pipes that report a list of messages.
func writeErrors(w http.ResponseWriter, status int, msgs []string) {
	writeJSON(w, status, map[string]any{"statusCode": status, "message": msgs, "error": "Bad Request"})
}
