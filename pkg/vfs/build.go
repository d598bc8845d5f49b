package vfs

import (
	"sort"
	"strings"

	"github.com/cuemby/moss/pkg/types"
)

type ownedLayout struct {
	owner types.PackageID
	l     types.Layout
}

// Build constructs a Tree from the union of layout entries across a set of
// packages. Entries are pushed in ascending path-depth order so that every
// entry's parent directory is guaranteed to already exist in the tree
// regardless of which package declared it.
//
// It returns the baked tree plus any duplicate-path reports encountered
// (first writer wins, per spec.md §9).
func Build(layouts map[types.PackageID][]types.Layout) (*Tree, []Duplicate, error) {
	var flat []ownedLayout
	for owner, ls := range layouts {
		for _, l := range ls {
			flat = append(flat, ownedLayout{owner: owner, l: l})
		}
	}

	sort.SliceStable(flat, func(i, j int) bool {
		return depth(flat[i].l.Entry.Target) < depth(flat[j].l.Entry.Target)
	})

	tree := New()
	var duplicates []Duplicate

	for _, ol := range flat {
		dup, err := tree.Push(ol.owner, ol.l)
		if err != nil {
			return nil, nil, err
		}
		if dup != nil {
			duplicates = append(duplicates, *dup)
		}
	}

	tree.Bake()
	return tree, duplicates, nil
}

func depth(target string) int {
	return strings.Count(strings.Trim(target, "/"), "/")
}
