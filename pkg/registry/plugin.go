package registry

import "github.com/cuemby/moss/pkg/types"

// PluginKind discriminates the three plugin backends a Registry can hold —
// a closed tagged union rather than an interface hierarchy, per spec.md §9.
type PluginKind int

const (
	PluginCobble PluginKind = iota
	PluginActive
	PluginRepository
)

// Plugin wraps exactly one of Cobble/Active/Repository, selected by Kind.
type Plugin struct {
	Kind       PluginKind
	cobble     *Cobble
	active     *Active
	repository *Repository
}

// NewCobblePlugin wraps c as a Plugin.
func NewCobblePlugin(c *Cobble) Plugin { return Plugin{Kind: PluginCobble, cobble: c} }

// NewActivePlugin wraps a as a Plugin.
func NewActivePlugin(a *Active) Plugin { return Plugin{Kind: PluginActive, active: a} }

// NewRepositoryPlugin wraps r as a Plugin.
func NewRepositoryPlugin(r *Repository) Plugin { return Plugin{Kind: PluginRepository, repository: r} }

func (p Plugin) priority() uint64 {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.priority()
	case PluginActive:
		return p.active.priority()
	case PluginRepository:
		return p.repository.priority()
	default:
		return 0
	}
}

func (p Plugin) byID(id types.PackageID) (Package, bool) {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.byID(id)
	case PluginActive:
		return p.active.byID(id)
	case PluginRepository:
		return p.repository.byID(id)
	default:
		return Package{}, false
	}
}

func (p Plugin) list(flags Flags) []Package {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.list(flags)
	case PluginActive:
		return p.active.list(flags)
	case PluginRepository:
		return p.repository.list(flags)
	default:
		return nil
	}
}

func (p Plugin) queryKeyword(keyword string, flags Flags) []Package {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.queryKeyword(keyword, flags)
	case PluginActive:
		return p.active.queryKeyword(keyword, flags)
	case PluginRepository:
		return p.repository.queryKeyword(keyword, flags)
	default:
		return nil
	}
}

func (p Plugin) queryProvider(provider types.Provider, flags Flags) []Package {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.queryProvider(provider, flags)
	case PluginActive:
		return p.active.queryProvider(provider, flags)
	case PluginRepository:
		return p.repository.queryProvider(provider, flags)
	default:
		return nil
	}
}

func (p Plugin) queryProviderIDOnly(provider types.Provider, flags Flags) []types.PackageID {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.queryProviderIDOnly(provider, flags)
	case PluginActive:
		return p.active.queryProviderIDOnly(provider, flags)
	case PluginRepository:
		return p.repository.queryProviderIDOnly(provider, flags)
	default:
		return nil
	}
}

func (p Plugin) queryName(name string, flags Flags) []Package {
	switch p.Kind {
	case PluginCobble:
		return p.cobble.queryName(name, flags)
	case PluginActive:
		return p.active.queryName(name, flags)
	case PluginRepository:
		return p.repository.queryName(name, flags)
	default:
		return nil
	}
}
