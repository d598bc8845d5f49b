package registry

import (
	"strings"

	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/types"
)

// activePriority sits above repository plugins: what's already installed
// should be preferred over a repository's copy of the same provider when
// the resolver is merely confirming something is already satisfied.
const activePriority = uint64(1) << 32

// Active is the registry plugin backed by the installation's meta database
// and its current State's selection set — "what is already on disk" (spec.md
// §4.D).
type Active struct {
	metaDB     *meta.DB
	selections map[types.PackageID]types.Selection
}

// NewActive builds an Active plugin over metaDB, scoped to the given
// selection set (typically the current State's Selections).
func NewActive(metaDB *meta.DB, selections []types.Selection) *Active {
	m := make(map[types.PackageID]types.Selection, len(selections))
	for _, s := range selections {
		m[s.PackageID] = s
	}
	return &Active{metaDB: metaDB, selections: m}
}

func (a *Active) priority() uint64 { return activePriority }

func (a *Active) flagsFor(sel types.Selection) Flags {
	f := FlagInstalled
	if sel.Explicit {
		f = f.With(FlagExplicit)
	}
	return f
}

func (a *Active) byID(id types.PackageID) (Package, bool) {
	sel, ok := a.selections[id]
	if !ok {
		return Package{}, false
	}
	m, err := a.metaDB.Get(id)
	if err != nil {
		return Package{}, false
	}
	return Package{ID: id, Meta: m, Flags: a.flagsFor(sel)}, true
}

func (a *Active) list(flags Flags) []Package {
	var out []Package
	for id, sel := range a.selections {
		f := a.flagsFor(sel)
		if !f.Contains(flags) {
			continue
		}
		m, err := a.metaDB.Get(id)
		if err != nil {
			continue
		}
		out = append(out, Package{ID: id, Meta: m, Flags: f})
	}
	return sortPackages(out)
}

func (a *Active) queryKeyword(keyword string, flags Flags) []Package {
	k := strings.ToLower(keyword)
	var out []Package
	for _, p := range a.list(Flags(0)) {
		if !p.Flags.Contains(flags) {
			continue
		}
		if strings.Contains(strings.ToLower(p.Meta.Name), k) || strings.Contains(strings.ToLower(p.Meta.Summary), k) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (a *Active) queryProvider(provider types.Provider, flags Flags) []Package {
	var out []Package
	for _, p := range a.list(Flags(0)) {
		if !p.Flags.Contains(flags) {
			continue
		}
		for _, prov := range p.Meta.Providers {
			if prov == provider {
				out = append(out, p)
				break
			}
		}
	}
	return sortPackages(out)
}

func (a *Active) queryProviderIDOnly(provider types.Provider, flags Flags) []types.PackageID {
	var out []types.PackageID
	for _, p := range a.queryProvider(provider, flags) {
		out = append(out, p.ID)
	}
	return out
}

func (a *Active) queryName(name string, flags Flags) []Package {
	var out []Package
	for _, p := range a.list(Flags(0)) {
		if p.Flags.Contains(flags) && p.Meta.Name == name {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}
