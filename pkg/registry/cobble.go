package registry

import (
	"strings"

	"github.com/cuemby/moss/pkg/types"
)

// cobblePriority is fixed above every other plugin kind: a loose stone
// named explicitly on the command line always wins (spec.md §4.D).
const cobblePriority = ^uint64(0)

// Cobble is the registry plugin backing loose `.stone` files added by id at
// runtime (`moss install ./pkg.stone`).
type Cobble struct {
	packages map[types.PackageID]Package
}

// NewCobble returns an empty Cobble plugin.
func NewCobble() *Cobble {
	return &Cobble{packages: make(map[types.PackageID]Package)}
}

// Add registers a loose package under its id.
func (c *Cobble) Add(p Package) {
	c.packages[p.ID] = p
}

func (c *Cobble) priority() uint64 { return cobblePriority }

func (c *Cobble) byID(id types.PackageID) (Package, bool) {
	p, ok := c.packages[id]
	return p, ok
}

func (c *Cobble) list(flags Flags) []Package {
	out := make([]Package, 0, len(c.packages))
	for _, p := range c.packages {
		if p.Flags.Contains(flags) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (c *Cobble) queryKeyword(keyword string, flags Flags) []Package {
	k := strings.ToLower(keyword)
	var out []Package
	for _, p := range c.packages {
		if !p.Flags.Contains(flags) {
			continue
		}
		if strings.Contains(strings.ToLower(p.Meta.Name), k) || strings.Contains(strings.ToLower(p.Meta.Summary), k) {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}

func (c *Cobble) queryProvider(provider types.Provider, flags Flags) []Package {
	var out []Package
	for _, p := range c.packages {
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

func (c *Cobble) queryProviderIDOnly(provider types.Provider, flags Flags) []types.PackageID {
	var out []types.PackageID
	for _, p := range c.queryProvider(provider, flags) {
		out = append(out, p.ID)
	}
	return out
}

func (c *Cobble) queryName(name string, flags Flags) []Package {
	var out []Package
	for _, p := range c.packages {
		if p.Flags.Contains(flags) && p.Meta.Name == name {
			out = append(out, p)
		}
	}
	return sortPackages(out)
}
