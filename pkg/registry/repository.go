package registry

import (
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/types"
)

// Repository is the registry plugin wrapping one refreshed repository
// index database, with the repo's own configured priority.
type Repository struct {
	Name      string
	metaDB    *meta.DB
	priorityV uint64
}

// NewRepository wraps an already-refreshed index database.
func NewRepository(name string, priority uint64, metaDB *meta.DB) *Repository {
	return &Repository{Name: name, priorityV: priority, metaDB: metaDB}
}

func (r *Repository) priority() uint64 { return r.priorityV }

func toPackage(m types.Meta) Package {
	return Package{ID: m.ID, Meta: m, Flags: FlagAvailable}
}

func (r *Repository) byID(id types.PackageID) (Package, bool) {
	m, err := r.metaDB.Get(id)
	if err != nil {
		return Package{}, false
	}
	return toPackage(m), true
}

func (r *Repository) list(flags Flags) []Package {
	metas, err := r.metaDB.Query(meta.Filter{Kind: meta.FilterNone})
	if err != nil {
		return nil
	}
	out := make([]Package, 0, len(metas))
	for _, m := range metas {
		p := toPackage(m)
		if p.Flags.Contains(flags) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (r *Repository) queryKeyword(keyword string, flags Flags) []Package {
	metas, err := r.metaDB.Query(meta.Filter{Kind: meta.FilterKeyword, Keyword: keyword})
	if err != nil {
		return nil
	}
	out := make([]Package, 0, len(metas))
	for _, m := range metas {
		p := toPackage(m)
		if p.Flags.Contains(flags) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (r *Repository) queryProvider(provider types.Provider, flags Flags) []Package {
	metas, err := r.metaDB.Query(meta.Filter{Kind: meta.FilterProvider, Provider: provider})
	if err != nil {
		return nil
	}
	out := make([]Package, 0, len(metas))
	for _, m := range metas {
		p := toPackage(m)
		if p.Flags.Contains(flags) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (r *Repository) queryProviderIDOnly(provider types.Provider, flags Flags) []types.PackageID {
	var out []types.PackageID
	for _, p := range r.queryProvider(provider, flags) {
		out = append(out, p.ID)
	}
	return out
}

func (r *Repository) queryName(name string, flags Flags) []Package {
	metas, err := r.metaDB.Query(meta.Filter{Kind: meta.FilterName, Name: name})
	if err != nil {
		return nil
	}
	out := make([]Package, 0, len(metas))
	for _, m := range metas {
		p := toPackage(m)
		if p.Flags.Contains(flags) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}
