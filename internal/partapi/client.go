// Package partapi is the HTTP client for the parts and BOM service.
package partapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 15 * time.Second
)

// RawText receives a success body verbatim, JSON or not.
type RawText string

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int // applies to GET requests only
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	log        *zap.Logger
	tracer     trace.Tracer
}

func New(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
		httpClient: hc,
		log:        log.Named("partapi"),
		tracer:     otel.Tracer("github.com/agentic-research/partbom/internal/partapi"),
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) SearchParts(ctx context.Context, query string) ([]api.PartSummary, error) {
	path := "/parts"
	if q := strings.TrimSpace(query); q != "" {
		path += "?q=" + url.QueryEscape(q)
	}
	var out []api.PartSummary
	if err := c.doJSON(ctx, "searchParts", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []api.PartSummary{}
	}
	return out, nil
}

func (c *Client) GetPartDetails(ctx context.Context, id string) (*api.PartDetails, error) {
	var out api.PartDetails
	if err := c.doJSON(ctx, "getPartDetails", http.MethodGet, "/parts/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPartAuditLogs(ctx context.Context, id string) ([]api.AuditLog, error) {
	var out []api.AuditLog
	if err := c.doJSON(ctx, "getPartAuditLogs", http.MethodGet, "/parts/"+url.PathEscape(id)+"/audit-logs", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []api.AuditLog{}
	}
	return out, nil
}

// GetBomTree fetches the tree under id. A nodeLimit of zero leaves the limit
// to the service.
func (c *Client) GetBomTree(ctx context.Context, id string, depth api.Depth, nodeLimit int) (*api.BomTreeResponse, error) {
	q := url.Values{}
	q.Set("depth", depth.String())
	if nodeLimit > 0 {
		q.Set("nodeLimit", strconv.Itoa(nodeLimit))
	}
	var out api.BomTreeResponse
	if err := c.doJSON(ctx, "getBomTree", http.MethodGet, "/bom/"+url.PathEscape(id)+"?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePart(ctx context.Context, req api.CreatePartRequest) (*api.PartRecord, error) {
	var out api.PartRecord
	if err := c.doJSON(ctx, "createPart", http.MethodPost, "/parts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBomLink(ctx context.Context, link api.BomLink) error {
	var ack RawText
	return c.doJSON(ctx, "createBomLink", http.MethodPost, "/bom/links", link, &ack)
}

func (c *Client) UpdateBomLink(ctx context.Context, link api.BomLink) error {
	var ack RawText
	return c.doJSON(ctx, "updateBomLink", http.MethodPut, "/bom/links", link, &ack)
}

func (c *Client) DeleteBomLink(ctx context.Context, parentID, childID string) error {
	var ack RawText
	path := "/bom/links/" + url.PathEscape(parentID) + "/" + url.PathEscape(childID)
	return c.doJSON(ctx, "deleteBomLink", http.MethodDelete, path, nil, &ack)
}

// doJSON issues one call. Only GETs are retried, with exponential backoff.
//
// A *RawText out receives the body verbatim whatever its type; other outs
// need a JSON body. A 204 or empty body leaves out untouched.
func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, body, out any) (err error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	ctx, span := c.tracer.Start(ctx, "partapi."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
		))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	status := "error"
	defer func() {
		metrics.RecordAPICall(endpoint, status, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	retries := 0
	if method == http.MethodGet {
		retries = c.maxRetries
	}

	var lastErr error
	backoff := 250 * time.Millisecond
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return err
		}
		reqID := uuid.NewString()
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Request-Id", reqID)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.log.Debug("request failed", zap.String("endpoint", endpoint), zap.String("request_id", reqID), zap.Int("attempt", attempt), zap.Error(err))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
			_ = resp.Body.Close()
			if readErr != nil {
				return readErr
			}
			status = strconv.Itoa(resp.StatusCode)
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
			c.log.Debug("request",
				zap.String("endpoint", endpoint),
				zap.String("request_id", reqID),
				zap.Int("status", resp.StatusCode),
				zap.Duration("elapsed", time.Since(start)))

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = parseHTTPError(resp.StatusCode, raw)
				// Client errors will not get better on retry.
				if resp.StatusCode < 500 {
					return lastErr
				}
			} else {
				return decodeBody(resp.StatusCode, resp.Header.Get("Content-Type"), raw, out)
			}
		}

		if attempt < retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	if lastErr == nil {
		lastErr = errors.New("request failed")
	}
	return lastErr
}

func decodeBody(status int, contentType string, raw []byte, out any) error {
	if status == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 || out == nil {
		return nil
	}
	if text, ok := out.(*RawText); ok {
		*text = RawText(raw)
		return nil
	}
	if isJSON(contentType) {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unexpected %q response body", contentType)
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
