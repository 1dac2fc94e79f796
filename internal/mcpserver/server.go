// Package mcpserver exposes a live session as MCP tools so an agent can
// browse parts and edit BOM links through the same cache an operator uses.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/partbom/internal/render"
	"github.com/agentic-research/partbom/internal/session"
	"github.com/agentic-research/partbom/internal/validate"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const Name = "partbom"

// Server binds MCP tools to one session.
type Server struct {
	sess *session.Session
	log  *zap.Logger
	mcp  *server.MCPServer
}

func New(sess *session.Session, version string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		sess: sess,
		log:  log.Named("mcp"),
		mcp:  server.NewMCPServer(Name, version, server.WithToolCapabilities(false)),
	}
	s.register()
	return s
}

// MCP returns the underlying server, for transports other than stdio.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving requests on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	idArg := func(desc string) mcp.ToolOption {
		return mcp.WithString("id", mcp.Required(), mcp.Description(desc))
	}
	childArg := mcp.WithString("child_id", mcp.Required(), mcp.Description("Child part id"))
	qtyArg := mcp.WithNumber("quantity", mcp.Required(), mcp.Description("Whole number, at least 1"))

	s.add(mcp.NewTool("search_parts",
		mcp.WithDescription("Search parts by name or part number. The selection moves to the first result unless the selected part is still listed."),
		mcp.WithString("query", mcp.Description("Search text; empty lists everything")),
	), s.searchParts)

	s.add(mcp.NewTool("select_part",
		mcp.WithDescription("Select a part and load its details, audit log and BOM tree."),
		idArg("Part id"),
	), s.selectPart)

	s.add(mcp.NewTool("show_part",
		mcp.WithDescription("Show details and audit log of the selected part."),
	), s.showPart)

	s.add(mcp.NewTool("bom_tree",
		mcp.WithDescription("Render the visible rows of the selected part's BOM tree."),
	), s.bomTree)

	s.add(mcp.NewTool("toggle_node",
		mcp.WithDescription("Expand or collapse a tree node, fetching its children if they were never loaded."),
		idArg("Node (part) id in the current tree"),
	), s.toggleNode)

	s.add(mcp.NewTool("retry_children",
		mcp.WithDescription("Retry loading the children of a node whose fetch failed."),
		idArg("Node (part) id in the current tree"),
	), s.retryChildren)

	s.add(mcp.NewTool("refresh",
		mcp.WithDescription("Re-fetch details, audit log and tree of the selected part."),
	), s.refresh)

	s.add(mcp.NewTool("link_candidates",
		mcp.WithDescription("List parts that can be linked under the selected part."),
	), s.linkCandidates)

	s.add(mcp.NewTool("create_link",
		mcp.WithDescription("Link a child part under the selected part."),
		childArg, qtyArg,
	), s.createLink)

	s.add(mcp.NewTool("update_link",
		mcp.WithDescription("Change the quantity of a child link under the selected part."),
		childArg, qtyArg,
	), s.updateLink)

	s.add(mcp.NewTool("delete_link",
		mcp.WithDescription("Remove a child link from under the selected part."),
		childArg,
	), s.deleteLink)

	s.add(mcp.NewTool("create_part",
		mcp.WithDescription("Create a part. With select unset the current selection is kept so the new part can be linked."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Part name, at most 80 characters")),
		mcp.WithString("part_number", mcp.Description("Optional, at most 40 characters")),
		mcp.WithString("description", mcp.Description("Optional, at most 240 characters")),
		mcp.WithBoolean("select", mcp.Description("Select the new part (default true)")),
	), s.createPart)
}

type toolFunc func(ctx context.Context, req mcp.CallToolRequest) (string, error)

// add wraps a tool so failures come back as tool errors the agent can read
// rather than protocol errors.
func (s *Server) add(tool mcp.Tool, fn toolFunc) {
	s.mcp.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := fn(ctx, req)
		if err != nil {
			s.log.Debug("tool failed", zap.String("tool", tool.Name), zap.Error(err))
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(out), nil
	})
}

func (s *Server) searchParts(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	s.sess.Search(ctx, req.GetString("query", ""))
	snap := s.sess.Snapshot()
	if snap.Search.Err != "" {
		return "", errors.New(snap.Search.Err)
	}
	var b strings.Builder
	err := render.Parts(&b, snap.Search.Parts, snap.SelectedID)
	return b.String(), err
}

func (s *Server) selectPart(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return "", err
	}
	s.sess.Select(ctx, id)
	return s.describeSelection()
}

func (s *Server) showPart(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	return s.describeSelection()
}

func (s *Server) describeSelection() (string, error) {
	snap := s.sess.Snapshot()
	if snap.SelectedID == "" {
		return "", session.ErrNoSelection
	}
	var b strings.Builder
	if snap.Details.Err != "" {
		fmt.Fprintf(&b, "details: %s\n", snap.Details.Err)
	} else if err := render.Details(&b, snap.Details.Data); err != nil {
		return "", err
	}
	b.WriteString("\naudit:\n")
	if snap.Audit.Err != "" {
		fmt.Fprintf(&b, "  %s\n", snap.Audit.Err)
	} else if err := render.Audit(&b, snap.Audit.Data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) bomTree(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	snap := s.sess.Snapshot()
	if snap.Tree.Err != "" {
		return "", errors.New(snap.Tree.Err)
	}
	var b strings.Builder
	err := render.Tree(&b, snap.Tree.Tree)
	return b.String(), err
}

func (s *Server) toggleNode(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return "", err
	}
	if _, err := s.sess.Toggle(ctx, id); err != nil {
		return "", fmt.Errorf("toggle %s: %w", id, err)
	}
	return s.bomTree(ctx, req)
}

func (s *Server) retryChildren(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return "", err
	}
	if err := s.sess.RetryChildren(ctx, id); err != nil {
		return "", fmt.Errorf("retry %s: %w", id, err)
	}
	return s.bomTree(ctx, req)
}

func (s *Server) refresh(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	s.sess.Refresh(ctx, session.RefreshOptions{})
	return s.describeSelection()
}

func (s *Server) linkCandidates(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	parts, err := s.sess.LinkCandidates(ctx)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	err = render.Parts(&b, parts, "")
	return b.String(), err
}

func (s *Server) createLink(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	child, qty, err := linkArgs(req)
	if err != nil {
		return "", err
	}
	if err := s.sess.CreateLink(ctx, child, qty); err != nil {
		return "", err
	}
	return s.describeSelection()
}

func (s *Server) updateLink(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	child, qty, err := linkArgs(req)
	if err != nil {
		return "", err
	}
	if err := s.sess.UpdateLink(ctx, child, qty); err != nil {
		return "", err
	}
	return s.describeSelection()
}

func (s *Server) deleteLink(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	child, err := req.RequireString("child_id")
	if err != nil {
		return "", err
	}
	if err := s.sess.DeleteLink(ctx, child); err != nil {
		return "", err
	}
	return s.describeSelection()
}

func (s *Server) createPart(ctx context.Context, req mcp.CallToolRequest) (string, error) {
	form := validate.PartForm{
		Name:        req.GetString("name", ""),
		PartNumber:  req.GetString("part_number", ""),
		Description: req.GetString("description", ""),
	}
	create := s.sess.CreatePart
	if !req.GetBool("select", true) {
		create = s.sess.CreatePartForLink
	}
	p, err := create(ctx, form)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("created %s (%s - %s)", p.ID, p.PartNumber, p.Name), nil
}

// linkArgs reads child_id and quantity. Quantity arrives as a JSON number
// and goes through the same whole-number rule as typed input.
func linkArgs(req mcp.CallToolRequest) (string, int, error) {
	child, err := req.RequireString("child_id")
	if err != nil {
		return "", 0, err
	}
	raw, err := req.RequireFloat("quantity")
	if err != nil {
		return "", 0, err
	}
	qty, err := validate.Quantity(fmt.Sprint(raw))
	if err != nil {
		return "", 0, err
	}
	return child, qty, nil
}
