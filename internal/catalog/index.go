// Package catalog keeps a background-refreshed index of every part known to
// the service, used for labels and link candidates.
//
// The index lives in an in-memory SQLite database. A failed refresh keeps the
// last good contents.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/events"
	"github.com/agentic-research/partbom/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("part not in catalog")

// Lister returns every part matching query; an empty query lists all parts.
type Lister interface {
	SearchParts(ctx context.Context, query string) ([]api.PartSummary, error)
}

type Index struct {
	db    *sql.DB
	src   Lister
	log   *zap.Logger
	group singleflight.Group
}

func Open(src Lister, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE parts (
			id          TEXT PRIMARY KEY,
			part_number TEXT NOT NULL,
			name        TEXT NOT NULL
		);
		CREATE INDEX parts_by_number ON parts(part_number);
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create catalog schema: %w", err)
	}

	return &Index{db: db, src: src, log: log.Named("catalog")}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// Refresh reloads the full part list. Concurrent callers share one fetch.
// On failure the previous contents are kept and the error is returned.
func (ix *Index) Refresh(ctx context.Context) error {
	_, err, _ := ix.group.Do("refresh", func() (any, error) {
		parts, err := ix.src.SearchParts(ctx, "")
		if err != nil {
			return nil, err
		}
		return nil, ix.Replace(ctx, parts)
	})
	if err != nil {
		ix.log.Warn("catalog refresh failed, keeping previous list", zap.Error(err))
		metrics.RecordCatalogRefresh(err, 0)
		return err
	}
	n, _ := ix.Len(ctx)
	metrics.RecordCatalogRefresh(nil, n)
	ix.log.Debug("catalog refreshed", zap.Int("parts", n))
	return nil
}

// Watch refreshes the index in the background on every focus event and
// returns the unsubscribe function.
func (ix *Index) Watch(ctx context.Context, bus *events.Bus) func() {
	return bus.Subscribe(events.TopicFocus, func(events.Topic) {
		go func() { _ = ix.Refresh(ctx) }()
	})
}

// Replace swaps the whole contents in one transaction.
func (ix *Index) Replace(ctx context.Context, parts []api.PartSummary) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM parts"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT OR REPLACE INTO parts (id, part_number, name) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, p := range parts {
		if _, err := stmt.ExecContext(ctx, p.ID, p.PartNumber, p.Name); err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// Upsert inserts or replaces one part.
func (ix *Index) Upsert(ctx context.Context, p api.PartSummary) error {
	_, err := ix.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO parts (id, part_number, name) VALUES (?, ?, ?)",
		p.ID, p.PartNumber, p.Name)
	return err
}

func (ix *Index) Lookup(ctx context.Context, id string) (api.PartSummary, error) {
	var p api.PartSummary
	err := ix.db.QueryRowContext(ctx,
		"SELECT id, part_number, name FROM parts WHERE id = ?", id,
	).Scan(&p.ID, &p.PartNumber, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return api.PartSummary{}, ErrNotFound
	}
	return p, err
}

// Label renders "PARTNUMBER - Name" for id, or the bare id when unknown.
func (ix *Index) Label(ctx context.Context, id string) string {
	p, err := ix.Lookup(ctx, id)
	if err != nil {
		return id
	}
	return Label(p)
}

func Label(p api.PartSummary) string {
	return p.PartNumber + " - " + p.Name
}

func (ix *Index) Len(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM parts").Scan(&n)
	return n, err
}

// All lists every part ordered by part number.
func (ix *Index) All(ctx context.Context) ([]api.PartSummary, error) {
	return ix.query(ctx, "SELECT id, part_number, name FROM parts ORDER BY part_number, id")
}

// Search filters by a case-insensitive substring of part number or name.
func (ix *Index) Search(ctx context.Context, q string) ([]api.PartSummary, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return ix.All(ctx)
	}
	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	return ix.query(ctx, `
		SELECT id, part_number, name FROM parts
		WHERE lower(part_number) LIKE ? ESCAPE '\' OR lower(name) LIKE ? ESCAPE '\'
		ORDER BY part_number, id`, pattern, pattern)
}

// Candidates lists the parts that may be linked under rootID: everything
// except rootID itself and the ids already linked beneath it.
func (ix *Index) Candidates(ctx context.Context, rootID string, linked []string) ([]api.PartSummary, error) {
	all, err := ix.All(ctx)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{}, len(linked)+1)
	skip[rootID] = struct{}{}
	for _, id := range linked {
		skip[id] = struct{}{}
	}
	out := all[:0]
	for _, p := range all {
		if _, ok := skip[p.ID]; !ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (ix *Index) query(ctx context.Context, q string, args ...any) ([]api.PartSummary, error) {
	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []api.PartSummary{}
	for rows.Next() {
		var p api.PartSummary
		if err := rows.Scan(&p.ID, &p.PartNumber, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
