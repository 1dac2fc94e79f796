// Package nfsmount serves the live session cache as a read-only NFS export.
// It adapts the cached BOM tree to billy.Filesystem for use with
// willscott/go-nfs.
//
// Layout:
//
//	/_search.json          query and listed parts
//	/_selection.json       selected id and part
//	/_details.json         details view of the selection
//	/_audit.json           audit log view of the selection
//	/<root>/node.json      one directory per tree node, nested by BOM link
//	/<root>/<child>/...
//
// Listing a node directory whose children are not cached fetches them.
package nfsmount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/graph"
	"github.com/agentic-research/partbom/internal/session"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"go.uber.org/zap"
)

var errReadOnly = errors.New("read-only filesystem")

const nodeFile = "node.json"

// Source is the part of the session the filesystem reads from.
type Source interface {
	Snapshot() session.Snapshot
	Expand(ctx context.Context, nodeID string) error
}

// TreeFS adapts a Source to billy.Filesystem.
type TreeFS struct {
	src       Source
	ctx       context.Context
	log       *zap.Logger
	mountTime time.Time
}

// NewTreeFS creates a filesystem over src. Child fetches triggered by
// directory listings run under ctx.
func NewTreeFS(ctx context.Context, src Source, log *zap.Logger) *TreeFS {
	if log == nil {
		log = zap.NewNop()
	}
	return &TreeFS{src: src, ctx: ctx, log: log.Named("nfs"), mountTime: time.Now()}
}

// virtual files at the root, rendered from a snapshot.
var rootFiles = map[string]func(session.Snapshot) any{
	"_search.json": func(s session.Snapshot) any { return s.Search },
	"_selection.json": func(s session.Snapshot) any {
		return struct {
			SelectedID   string           `json:"selectedId"`
			SelectedPart *api.PartSummary `json:"selectedPart"`
		}{s.SelectedID, s.SelectedPart}
	},
	"_details.json": func(s session.Snapshot) any { return s.Details },
	"_audit.json":   func(s session.Snapshot) any { return s.Audit },
}

// nodeDoc is what node.json holds.
type nodeDoc struct {
	Part               api.PartSummary `json:"part"`
	QuantityFromParent *int            `json:"quantityFromParent,omitempty"`
	HasChildren        bool            `json:"hasChildren"`
	ChildrenLoaded     bool            `json:"childrenLoaded"`
	LoadingChildren    bool            `json:"loadingChildren"`
	ChildrenError      string          `json:"childrenError,omitempty"`
	ChildIDs           []string        `json:"childIds"`
	Expanded           bool            `json:"expanded"`
}

// --- billy.Basic ---

func (fs *TreeFS) Create(filename string) (billy.File, error) {
	return nil, errReadOnly
}

func (fs *TreeFS) Open(filename string) (billy.File, error) {
	return fs.OpenFile(filename, os.O_RDONLY, 0)
}

func (fs *TreeFS) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	filename = cleanPath(filename)
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, errReadOnly
	}

	e, err := fs.resolve(fs.src.Snapshot(), filename)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: filename, Err: err}
	}
	if e.dir {
		return nil, &os.PathError{Op: "open", Path: filename, Err: errors.New("is a directory")}
	}
	return &bytesFile{name: filename, data: e.data}, nil
}

func (fs *TreeFS) Stat(filename string) (os.FileInfo, error) {
	return fs.Lstat(filename)
}

func (fs *TreeFS) Rename(oldpath, newpath string) error { return errReadOnly }
func (fs *TreeFS) Remove(filename string) error         { return errReadOnly }

func (fs *TreeFS) Join(elem ...string) string {
	return path.Join(elem...)
}

// --- billy.TempFile ---

func (fs *TreeFS) TempFile(dir, prefix string) (billy.File, error) {
	return nil, billy.ErrNotSupported
}

// --- billy.Dir ---

func (fs *TreeFS) ReadDir(dirname string) ([]os.FileInfo, error) {
	dirname = cleanPath(dirname)
	snap := fs.src.Snapshot()

	e, err := fs.resolve(snap, dirname)
	if err != nil {
		return nil, &os.PathError{Op: "readdir", Path: dirname, Err: err}
	}
	if !e.dir {
		return nil, &os.PathError{Op: "readdir", Path: dirname, Err: errors.New("not a directory")}
	}

	if dirname == "/" {
		return fs.rootEntries(snap), nil
	}

	if e.node.HasChildren && !e.node.ChildrenLoaded {
		if err := fs.src.Expand(fs.ctx, e.node.Part.ID); err != nil {
			fs.log.Warn("expand on readdir failed", zap.String("path", dirname), zap.Error(err))
		}
		snap = fs.src.Snapshot()
		if e, err = fs.resolve(snap, dirname); err != nil {
			return nil, &os.PathError{Op: "readdir", Path: dirname, Err: err}
		}
		if e.node.ChildrenError != "" {
			return nil, &os.PathError{Op: "readdir", Path: dirname, Err: errors.New(e.node.ChildrenError)}
		}
	}

	infos := []os.FileInfo{fs.fileInfo(nodeFile, len(e.data))}
	for _, id := range e.node.ChildIDs {
		if _, ok := snap.Tree.Tree.Nodes[id]; ok {
			infos = append(infos, fs.dirInfo(id))
		}
	}
	return infos, nil
}

func (fs *TreeFS) MkdirAll(filename string, perm os.FileMode) error {
	return errReadOnly
}

// --- billy.Symlink ---

func (fs *TreeFS) Lstat(filename string) (os.FileInfo, error) {
	filename = cleanPath(filename)
	e, err := fs.resolve(fs.src.Snapshot(), filename)
	if err != nil {
		return nil, &os.PathError{Op: "lstat", Path: filename, Err: err}
	}
	if e.dir {
		return fs.dirInfo(path.Base(filename)), nil
	}
	return fs.fileInfo(path.Base(filename), len(e.data)), nil
}

func (fs *TreeFS) Symlink(target, link string) error {
	return billy.ErrNotSupported
}

func (fs *TreeFS) Readlink(link string) (string, error) {
	return "", billy.ErrNotSupported
}

// --- billy.Chroot ---

func (fs *TreeFS) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(fs, p), nil
}

func (fs *TreeFS) Root() string {
	return "/"
}

// --- billy.Capable ---

func (fs *TreeFS) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

// --- internals ---

// entry is a resolved path: a directory (root or node) or a file with its
// rendered content.
type entry struct {
	dir  bool
	node *graph.Node
	data []byte
}

// resolve maps a clean path onto the snapshot. Node directories must follow
// BOM links from the tree root.
func (fs *TreeFS) resolve(snap session.Snapshot, p string) (entry, error) {
	if p == "/" {
		return entry{dir: true}, nil
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")

	if len(parts) == 1 {
		if render, ok := rootFiles[parts[0]]; ok {
			data, err := marshal(render(snap))
			return entry{data: data}, err
		}
	}

	tree := snap.Tree.Tree
	if tree == nil || parts[0] != tree.RootID {
		return entry{}, os.ErrNotExist
	}
	n := tree.Nodes[tree.RootID]
	if n == nil {
		return entry{}, os.ErrNotExist
	}
	for i, seg := range parts[1:] {
		if seg == nodeFile && i == len(parts)-2 {
			data, err := marshal(docFor(tree, n))
			return entry{node: n, data: data}, err
		}
		if !slices.Contains(n.ChildIDs, seg) {
			return entry{}, os.ErrNotExist
		}
		if n = tree.Nodes[seg]; n == nil {
			return entry{}, os.ErrNotExist
		}
	}
	data, err := marshal(docFor(tree, n))
	return entry{dir: true, node: n, data: data}, err
}

func (fs *TreeFS) rootEntries(snap session.Snapshot) []os.FileInfo {
	names := make([]string, 0, len(rootFiles))
	for name := range rootFiles {
		names = append(names, name)
	}
	slices.Sort(names)

	infos := make([]os.FileInfo, 0, len(names)+1)
	for _, name := range names {
		data, err := marshal(rootFiles[name](snap))
		if err != nil {
			fs.log.Warn("render failed", zap.String("file", name), zap.Error(err))
			continue
		}
		infos = append(infos, fs.fileInfo(name, len(data)))
	}
	if snap.Tree.Tree != nil {
		infos = append(infos, fs.dirInfo(snap.Tree.Tree.RootID))
	}
	return infos
}

func docFor(t *graph.Tree, n *graph.Node) nodeDoc {
	return nodeDoc{
		Part:               n.Part,
		QuantityFromParent: n.QuantityFromParent,
		HasChildren:        n.HasChildren,
		ChildrenLoaded:     n.ChildrenLoaded,
		LoadingChildren:    n.LoadingChildren,
		ChildrenError:      n.ChildrenError,
		ChildIDs:           n.ChildIDs,
		Expanded:           t.Expanded.Has(n.Part.ID),
	}
}

func marshal(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return append(b, '\n'), nil
}

func (fs *TreeFS) fileInfo(name string, size int) os.FileInfo {
	return &staticFileInfo{name: name, size: int64(size), mode: 0o444, modTime: time.Now()}
}

func (fs *TreeFS) dirInfo(name string) os.FileInfo {
	return &staticFileInfo{name: name, mode: os.ModeDir | 0o555, modTime: fs.mountTime}
}

// cleanPath normalizes a billy path to a clean absolute path.
func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// staticFileInfo implements os.FileInfo with static values.
type staticFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *staticFileInfo) Name() string       { return fi.name }
func (fi *staticFileInfo) Size() int64        { return fi.size }
func (fi *staticFileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *staticFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *staticFileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *staticFileInfo) Sys() any           { return nil }

var (
	_ billy.Filesystem = (*TreeFS)(nil)
	_ billy.Capable    = (*TreeFS)(nil)
	_ billy.File       = (*bytesFile)(nil)
	_ Source           = (*session.Session)(nil)
)
