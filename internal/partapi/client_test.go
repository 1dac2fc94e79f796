package partapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.BaseURL())

	c, err = New(Options{BaseURL: " http://example.test/api// "})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/api", c.BaseURL())

	_, err = New(Options{BaseURL: "not a url"})
	assert.Error(t, err)
}

func TestSearchParts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/parts", r.URL.Path)
		assert.Equal(t, "bolt m6", r.URL.Query().Get("q"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		writeJSON(w, http.StatusOK, []api.PartSummary{{ID: "p1", PartNumber: "PN-1", Name: "Bolt"}})
	})

	parts, err := c.SearchParts(context.Background(), "  bolt m6 ")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "PN-1", parts[0].PartNumber)
}

func TestSearchParts_EmptyQueryOmitsParam(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		writeJSON(w, http.StatusOK, nil)
	})

	parts, err := c.SearchParts(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, parts)
	assert.Empty(t, parts)
}

func TestGetBomTree_Query(t *testing.T) {
	tests := []struct {
		name      string
		depth     api.Depth
		nodeLimit int
		wantQuery string
	}{
		{"depth one", 1, 0, "depth=1"},
		{"all with limit", api.DepthAll, 500, "depth=all&nodeLimit=500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/bom/PART-0001", r.URL.Path)
				assert.Equal(t, tt.wantQuery, r.URL.RawQuery)
				writeJSON(w, http.StatusOK, map[string]any{
					"rootPartId":     "PART-0001",
					"requestedDepth": tt.depth,
					"nodeLimit":      tt.nodeLimit,
					"nodeCount":      1,
					"tree": map[string]any{
						"part":        map[string]any{"id": "PART-0001", "partNumber": "PN-1", "name": "Root"},
						"hasChildren": false,
						"children":    []any{},
					},
				})
			})

			resp, err := c.GetBomTree(context.Background(), "PART-0001", tt.depth, tt.nodeLimit)
			require.NoError(t, err)
			assert.Equal(t, tt.depth, resp.RequestedDepth)
			assert.Equal(t, "PART-0001", resp.Tree.Part.ID)
		})
	}
}

func TestCreateBomLink_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/bom/links", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var link api.BomLink
		require.NoError(t, json.NewDecoder(r.Body).Decode(&link))
		assert.Equal(t, api.BomLink{ParentID: "PART-0001", ChildID: "PART-0005", Quantity: 3}, link)
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})
	})

	err := c.CreateBomLink(context.Background(), api.BomLink{ParentID: "PART-0001", ChildID: "PART-0005", Quantity: 3})
	assert.NoError(t, err)
}

func TestDeleteBomLink_NoContent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/bom/links/PART-0001/PART-0002", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	assert.NoError(t, c.DeleteBomLink(context.Background(), "PART-0001", "PART-0002"))
}

func TestCreatePart_OmitsEmptyOptionals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"Bracket"}`, string(raw))
		writeJSON(w, http.StatusCreated, api.PartRecord{PartSummary: api.PartSummary{ID: "p9", PartNumber: "PN-9", Name: "Bracket"}})
	})

	rec, err := c.CreatePart(context.Background(), api.CreatePartRequest{Name: "Bracket"})
	require.NoError(t, err)
	assert.Equal(t, "p9", rec.ID)
}

func TestNonJSONSuccessPassesThrough(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "linked")
	})

	var out RawText
	require.NoError(t, c.doJSON(context.Background(), "test", http.MethodPut, "/bom/links", nil, &out))
	assert.Equal(t, RawText("linked"), out)

	var parts []api.PartSummary
	assert.Error(t, c.doJSON(context.Background(), "test", http.MethodGet, "/parts", nil, &parts))
}

func TestHTTPErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"message string", 400, `{"message":"Part not found"}`, "Part not found"},
		{"message list", 400, `{"message":["quantity must be positive","childId is required"]}`, "quantity must be positive, childId is required"},
		{"error field", 409, `{"error":"Conflict"}`, "Conflict"},
		{"message wins over error", 400, `{"message":"bad","error":"Bad Request"}`, "bad"},
		{"empty message falls back to error", 404, `{"message":"","error":"Not Found"}`, "Not Found"},
		{"no json", 502, `<html>bad gateway</html>`, "Request failed with status 502."},
		{"empty body", 404, ``, "Request failed with status 404."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := parseHTTPError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.status, e.StatusCode)
			assert.Equal(t, tt.want, e.Error())
		})
	}
}

func TestGetPartDetails_ErrorIsTyped(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Part PART-9 was not found."})
	})

	_, err := c.GetPartDetails(context.Background(), "PART-9")
	var herr *HTTPError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, http.StatusNotFound, herr.StatusCode)
	assert.Equal(t, "Part PART-9 was not found.", herr.Message)
}

func TestRetriesOnlyGETServerErrors(t *testing.T) {
	var calls atomic.Int32
	h := func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.Method == http.MethodGet && n == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "busy"})
			return
		}
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "boom"})
			return
		}
		writeJSON(w, http.StatusOK, []api.AuditLog{{ID: "a1", Action: api.ActionLinkCreated}})
	}
	srv := httptest.NewServer(http.HandlerFunc(h))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, MaxRetries: 2})
	require.NoError(t, err)

	logs, err := c.GetPartAuditLogs(context.Background(), "p1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Equal(t, int32(2), calls.Load())

	calls.Store(0)
	err = c.UpdateBomLink(context.Background(), api.BomLink{ParentID: "a", ChildID: "b", Quantity: 1})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "nope"})
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, MaxRetries: 3})
	require.NoError(t, err)

	_, err = c.SearchParts(context.Background(), "x")
	assert.EqualError(t, err, "nope")
	assert.Equal(t, int32(1), calls.Load())
}
