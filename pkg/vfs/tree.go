// Package vfs implements the in-memory tree of pending inodes used to stage
// a transaction before it is blitted to disk: push every layout entry, then
// bake deferred symlinks by resolving and possibly reparenting them.
package vfs

import (
	"fmt"
	"path"
	"strings"

	"github.com/cuemby/moss/pkg/types"
)

// Error is returned for tree-construction failures.
type Error struct {
	Op   string
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vfs: %s: %s", e.Op, e.Path)
}

// missingParent builds the *Error Push returns when a path's parent
// directory has not been pushed yet.
func missingParent(p string) error {
	return &Error{Op: "missing parent", Path: p}
}

// Duplicate is a non-fatal report emitted when two packages ship the same
// target path; the first writer wins (spec.md §9 open question).
type Duplicate struct {
	Path        string
	FirstOwner  types.PackageID
	SecondOwner types.PackageID
}

// node is one arena slot. Children are indices into the same arena, which
// sidesteps the cyclic directory<->children ownership spec.md §9 warns
// against: there are no back-pointers, only forward slice indices.
type node struct {
	path     string
	fileName string
	parent   int // -1 for the root
	kind     types.EntryKind
	entry    types.Entry
	mode     uint32
	owner    types.PackageID
	children []int
}

// Tree is an arena-backed forest of pending inodes, keyed by absolute path.
type Tree struct {
	nodes   []node
	byPath  map[string]int
	pending []pendingSymlink
}

type pendingSymlink struct {
	idx int
}

// New creates a Tree seeded with a synthetic root directory node at "/", so
// that top-level pushes (e.g. "/usr", "/lib") resolve their parent without
// every package needing to declare the root itself.
func New() *Tree {
	t := &Tree{byPath: make(map[string]int)}
	t.nodes = append(t.nodes, node{path: "/", fileName: "/", parent: -1, kind: types.EntryDirectory, mode: 0755})
	t.byPath["/"] = 0
	return t
}

// Len reports the number of nodes currently in the tree, counting the
// synthetic root and symlink nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Push inserts one layout entry into the tree. Every entry is deduplicated
// by path (first writer wins, duplicate reported). A symlink is inserted as
// a leaf node at once; resolving its target against the final directory
// structure is deferred until Bake.
func (t *Tree) Push(owner types.PackageID, l types.Layout) (*Duplicate, error) {
	target := "/" + strings.TrimPrefix(l.Entry.Target, "/")

	if existing, ok := t.byPath[target]; ok {
		dup := &Duplicate{Path: target, FirstOwner: t.nodes[existing].owner, SecondOwner: owner}
		return dup, nil
	}

	parentPath := path.Dir(target)
	parentIdx := -1
	if target != "/" {
		idx, ok := t.byPath[parentPath]
		if !ok {
			return nil, missingParent(parentPath)
		}
		parentIdx = idx
	}

	n := node{
		path:     target,
		fileName: path.Base(target),
		parent:   parentIdx,
		kind:     l.Entry.Kind,
		entry:    l.Entry,
		mode:     l.Mode,
		owner:    owner,
	}
	idx := len(t.nodes)
	t.nodes = append(t.nodes, n)
	t.byPath[target] = idx
	if parentIdx >= 0 {
		t.nodes[parentIdx].children = append(t.nodes[parentIdx].children, idx)
	}

	if l.Entry.Kind == types.EntrySymlink {
		t.pending = append(t.pending, pendingSymlink{idx: idx})
	}

	return nil, nil
}

// Bake resolves every deferred symlink's target relative to its parent
// directory, normalising "." and "..". If the resolved path names an
// existing directory node, the symlink is reparented onto that directory's
// position so that files pushed under the symlink's path fold into the real
// directory; otherwise the symlink stays a leaf node.
func (t *Tree) Bake() {
	for _, p := range t.pending {
		n := &t.nodes[p.idx]
		resolved := resolveSymlink(n.path, n.entry.Source)

		if target, ok := t.byPath[resolved]; ok && t.nodes[target].kind == types.EntryDirectory {
			// Reparent: redirect lookups at this symlink's path to the real
			// directory node instead, matching pre-existing file pushes.
			t.byPath[n.path] = target
		}
	}
}

func resolveSymlink(symlinkPath, source string) string {
	if strings.HasPrefix(source, "/") {
		return path.Clean(source)
	}
	dir := path.Dir(symlinkPath)
	return path.Clean(path.Join(dir, source))
}

// Walk invokes fn for every node in the tree in a stable, parent-before-child
// order (children were appended in push order, so a simple index scan over
// the arena already yields that order since parents always precede children).
func (t *Tree) Walk(fn func(path string, kind types.EntryKind, entry types.Entry, mode uint32, owner types.PackageID, parentPath string) error) error {
	for i := range t.nodes {
		n := &t.nodes[i]
		parentPath := ""
		if n.parent >= 0 {
			parentPath = t.nodes[n.parent].path
		}
		if err := fn(n.path, n.kind, n.entry, n.mode, n.owner, parentPath); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the entry stored at path, if any.
func (t *Tree) Lookup(p string) (types.Entry, bool) {
	idx, ok := t.byPath[p]
	if !ok {
		return types.Entry{}, false
	}
	return t.nodes[idx].entry, true
}
