// Package render formats cache state as plain text for the shell, the
// one-shot commands and the MCP tools.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/catalog"
	"github.com/agentic-research/partbom/internal/graph"
)

// Tree writes one line per visible row:
//
//	[-] PN-0001 - Bicycle
//	  [+] PN-0002 - Wheel  x2
//	      PN-0004 - Frame  x1
func Tree(w io.Writer, t *graph.Tree) error {
	if t == nil {
		_, err := fmt.Fprintln(w, "(no tree loaded)")
		return err
	}
	var werr error
	t.Walk(func(n *graph.Node, level int) bool {
		_, werr = fmt.Fprintln(w, Row(t, n, level))
		return werr == nil
	})
	return werr
}

// Row formats a single tree row.
func Row(t *graph.Tree, n *graph.Node, level int) string {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", level))
	switch {
	case !n.HasChildren:
		b.WriteString("    ")
	case t.Expanded.Has(n.Part.ID):
		b.WriteString("[-] ")
	default:
		b.WriteString("[+] ")
	}
	b.WriteString(catalog.Label(n.Part))
	if n.QuantityFromParent != nil {
		fmt.Fprintf(&b, "  x%d", *n.QuantityFromParent)
	}
	switch {
	case n.LoadingChildren:
		b.WriteString("  (loading)")
	case n.ChildrenError != "":
		fmt.Fprintf(&b, "  [error: %s]", n.ChildrenError)
	case t.Expanded.Has(n.Part.ID) && n.HasChildren && !n.ChildrenLoaded:
		b.WriteString("  (not loaded)")
	}
	return b.String()
}

// ExpandLoaded returns t with every node whose children are cached marked
// expanded, for printing a fetched tree in full.
func ExpandLoaded(t *graph.Tree) *graph.Tree {
	out := t.Clone()
	for id, n := range out.Nodes {
		if n.HasChildren && n.ChildrenLoaded {
			out.Expanded.Add(id)
		}
	}
	return out
}

func Details(w io.Writer, d *api.PartDetails) error {
	if d == nil {
		_, err := fmt.Fprintln(w, "(no details loaded)")
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", catalog.Label(d.Summary()))
	fmt.Fprintf(&b, "  id:          %s\n", d.ID)
	if d.Description != "" {
		fmt.Fprintf(&b, "  description: %s\n", d.Description)
	}
	if d.CreatedAt != "" {
		fmt.Fprintf(&b, "  created:     %s\n", d.CreatedAt)
	}
	if d.UpdatedAt != "" {
		fmt.Fprintf(&b, "  updated:     %s\n", d.UpdatedAt)
	}
	fmt.Fprintf(&b, "  parents (%d):\n", d.ParentCount)
	for _, p := range d.ParentParts {
		fmt.Fprintf(&b, "    %s\n", catalog.Label(p))
	}
	fmt.Fprintf(&b, "  children (%d):\n", d.ChildCount)
	for _, c := range d.ChildParts {
		fmt.Fprintf(&b, "    %s  x%d\n", catalog.Label(c.PartSummary), c.Quantity)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func Audit(w io.Writer, logs []api.AuditLog) error {
	if len(logs) == 0 {
		_, err := fmt.Fprintln(w, "(no audit entries)")
		return err
	}
	for _, l := range logs {
		if _, err := fmt.Fprintf(w, "%s  %-18s %s\n", l.Timestamp, l.Action, l.Message); err != nil {
			return err
		}
	}
	return nil
}

// Parts writes one label per line, marking selected with an asterisk.
func Parts(w io.Writer, parts []api.PartSummary, selected string) error {
	if len(parts) == 0 {
		_, err := fmt.Fprintln(w, "(no parts)")
		return err
	}
	for _, p := range parts {
		mark := " "
		if p.ID == selected {
			mark = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %-12s %s\n", mark, p.ID, catalog.Label(p)); err != nil {
			return err
		}
	}
	return nil
}
