// Package registry merges package-lookup results across an ordered set of
// query plugins (spec.md §4.D): loose "cobbled" stones, the current
// installation's active selections, and zero or more repository indices.
package registry

import (
	"sort"

	"github.com/cuemby/moss/pkg/types"
)

// Registry owns an ordered set of Plugins and proxies queries to each,
// merging results with higher-priority plugins' matches sorted first.
type Registry struct {
	plugins []Plugin
}

// New returns an empty Registry.
func New() *Registry { return &Registry{} }

// AddPlugin appends plugin to the registry.
func (r *Registry) AddPlugin(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// orderedPlugins returns the registry's plugins sorted by descending
// priority, stable across equal priorities.
func (r *Registry) orderedPlugins() []Plugin {
	ordered := make([]Plugin, len(r.plugins))
	copy(ordered, r.plugins)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].priority() > ordered[j].priority()
	})
	return ordered
}

// ByID returns the first plugin's match for id, in priority order.
func (r *Registry) ByID(id types.PackageID) (Package, bool) {
	for _, p := range r.orderedPlugins() {
		if pkg, ok := p.byID(id); ok {
			return pkg, true
		}
	}
	return Package{}, false
}

// ByName returns every plugin's matches for name, concatenated in priority
// order.
func (r *Registry) ByName(name string, flags Flags) []Package {
	var out []Package
	for _, p := range r.orderedPlugins() {
		out = append(out, p.queryName(name, flags)...)
	}
	return out
}

// ByProvider returns every plugin's matches for provider, concatenated in
// priority order.
func (r *Registry) ByProvider(provider types.Provider, flags Flags) []Package {
	var out []Package
	for _, p := range r.orderedPlugins() {
		out = append(out, p.queryProvider(provider, flags)...)
	}
	return out
}

// ByProviderIDOnly is the id-only optimisation of ByProvider.
func (r *Registry) ByProviderIDOnly(provider types.Provider, flags Flags) []types.PackageID {
	var out []types.PackageID
	for _, p := range r.orderedPlugins() {
		out = append(out, p.queryProviderIDOnly(provider, flags)...)
	}
	return out
}

// ByKeyword returns every plugin's keyword matches, concatenated in
// priority order.
func (r *Registry) ByKeyword(keyword string, flags Flags) []Package {
	var out []Package
	for _, p := range r.orderedPlugins() {
		out = append(out, p.queryKeyword(keyword, flags)...)
	}
	return out
}

// List returns every plugin's packages matching flags, concatenated in
// priority order.
func (r *Registry) List(flags Flags) []Package {
	var out []Package
	for _, p := range r.orderedPlugins() {
		out = append(out, p.list(flags)...)
	}
	return out
}

// ListInstalled is List with the Installed flag folded in.
func (r *Registry) ListInstalled(flags Flags) []Package {
	return r.List(flags.With(FlagInstalled))
}

// ListAvailable is List with the Available flag folded in.
func (r *Registry) ListAvailable(flags Flags) []Package {
	return r.List(flags.With(FlagAvailable))
}
