package registry

import (
	"sort"

	"github.com/cuemby/moss/pkg/types"
)

// Package pairs a package's metadata with the flags describing its
// provenance (installed/available/source/explicit) as seen by the plugin
// that produced it.
type Package struct {
	ID    types.PackageID
	Meta  types.Meta
	Flags Flags
}

// sortPackages orders newest-first by source release, then ascending by
// name, matching spec.md §4.D's "newest first" default within one plugin.
func sortPackages(pkgs []Package) []Package {
	sort.SliceStable(pkgs, func(i, j int) bool {
		if pkgs[i].Meta.SourceRelease != pkgs[j].Meta.SourceRelease {
			return pkgs[i].Meta.SourceRelease > pkgs[j].Meta.SourceRelease
		}
		return pkgs[i].Meta.Name < pkgs[j].Meta.Name
	})
	return pkgs
}
