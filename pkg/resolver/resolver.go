// Package resolver builds the closure of packages a transaction needs by
// walking dependency edges outward from an incoming set, then checks the
// result for install/conflict contradictions via a 2-SAT reduction over
// strongly connected components (spec.md §4.E "Dependency resolution",
// grounded on original_source's crates/moss/src/registry/transaction.rs).
package resolver

import (
	"fmt"

	"github.com/cuemby/moss/pkg/dag"
	"github.com/cuemby/moss/pkg/registry"
	"github.com/cuemby/moss/pkg/types"
)

// ErrNoCandidate is returned when a dependency or conflict provider cannot
// be resolved to any package under the attempted lookup strategy.
type ErrNoCandidate struct {
	Provider types.Provider
}

func (e ErrNoCandidate) Error() string {
	return fmt.Sprintf("resolver: no candidate provides %s", e.Provider.String())
}

// Conflict names a package whose installed/uninstalled state cannot be
// simultaneously satisfied, along with the reverse-dependencies that
// forced it.
type Conflict struct {
	PackageID types.PackageID
	Reasons   []types.PackageID
}

// lookup selects which provider-resolution strategy Transaction.update uses
// while walking dependency edges.
type lookup int

const (
	lookupGlobal lookup = iota
	lookupInstalledOnly
)

// Transaction accumulates the package closure for a single install/remove
// operation against a Registry.
type Transaction struct {
	reg      *registry.Registry
	packages *dag.Graph[types.PackageID]
}

// New returns an empty Transaction bound to reg.
func New(reg *registry.Registry) *Transaction {
	return &Transaction{reg: reg, packages: dag.New[types.PackageID]()}
}

// NewWithInstalled seeds a Transaction from the currently installed set,
// resolving dependencies against installed packages only — the baseline a
// fresh client session starts from.
func NewWithInstalled(reg *registry.Registry, installed []types.PackageID) (*Transaction, error) {
	tx := New(reg)
	if err := tx.update(installed, lookupInstalledOnly); err != nil {
		return nil, err
	}
	return tx, nil
}

// Add extends the transaction with incoming packages and their full
// dependency closure, resolved against selections, then the installed set,
// then the full registry (spec.md §4.E's three-tier provider lookup).
func (tx *Transaction) Add(incoming []types.PackageID) error {
	return tx.update(incoming, lookupGlobal)
}

// Remove drops packages and every package that transitively depends on
// them from the transaction.
func (tx *Transaction) Remove(packages []types.PackageID) {
	transposed := tx.packages.Transpose()
	sub := transposed.Subgraph(reachableFrom(transposed, packages))
	for _, n := range sub.Nodes() {
		tx.packages.RemoveNode(n)
	}
}

// reachableFrom returns every node reachable from roots in g (inclusive),
// used to find a package's full set of reverse dependents before removal.
func reachableFrom(g *dag.Graph[types.PackageID], roots []types.PackageID) map[types.PackageID]struct{} {
	seen := make(map[types.PackageID]struct{})
	var stack []types.PackageID
	for _, r := range roots {
		if !seen[r] {
			seen[r] = struct{}{}
			stack = append(stack, r)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.Edges(n) {
			if _, ok := seen[next]; !ok {
				seen[next] = struct{}{}
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// Finalize returns the transaction's package set in dependency order —
// every dependency appears before the packages that need it.
func (tx *Transaction) Finalize() ([]types.PackageID, error) {
	// Edges run dependent->dependency, so Topo() on the graph as-is emits
	// dependents before their dependencies. Transpose first so the walk
	// emits leaves (dependencies) before the packages that need them.
	order, err := tx.packages.Transpose().Topo()
	if err != nil {
		return nil, fmt.Errorf("resolver: closure contains a dependency cycle: %w", err)
	}
	return order, nil
}

// Packages returns every package id currently in the transaction, in no
// particular order.
func (tx *Transaction) Packages() []types.PackageID {
	return tx.packages.Nodes()
}

// update performs the worklist closure walk: for every package needing
// resolution, look up its registry entry, resolve each dependency to a
// concrete package id under the given lookup strategy, and queue any newly
// discovered package for the same treatment.
func (tx *Transaction) update(incoming []types.PackageID, lk lookup) error {
	items := incoming

	for len(items) > 0 {
		var next []types.PackageID

		for _, id := range items {
			tx.packages.AddNode(id)

			pkg, ok := tx.reg.ByID(id)
			if !ok {
				return ErrNoCandidate{Provider: types.Provider{Name: string(id)}}
			}

			for _, dep := range pkg.Meta.Dependencies {
				provider := types.Provider{Kind: dep.Kind, Name: dep.Name}

				var resolved types.PackageID
				var err error
				switch lk {
				case lookupGlobal:
					resolved, err = tx.resolveInstallationProvider(provider)
				case lookupInstalledOnly:
					resolved, err = tx.resolveProvider(provider, registry.FlagInstalled)
				}
				if err != nil {
					return err
				}

				needSearch := !tx.packages.HasNode(resolved)
				tx.packages.AddEdge(id, resolved)
				if needSearch {
					next = append(next, resolved)
				}
			}
		}

		items = next
	}

	conflicts, err := tx.listConflicts(lk)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return ConflictError{Conflicts: conflicts}
	}

	return nil
}

// ConflictError reports every package whose installed/uninstalled state is
// contradictory under the current closure.
type ConflictError struct {
	Conflicts []Conflict
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("resolver: %d unresolvable conflict(s) in transaction", len(e.Conflicts))
}

// resolveProvider resolves provider to a single package id, restricted to
// packages carrying the given flag (e.g. FlagInstalled, FlagAvailable).
func (tx *Transaction) resolveProvider(provider types.Provider, flag registry.Flags) (types.PackageID, error) {
	matches := tx.reg.ByProvider(provider, flag)
	if len(matches) == 0 {
		return "", ErrNoCandidate{Provider: provider}
	}
	return matches[0].ID, nil
}

// resolveSelectionProvider resolves provider to a package id already
// present in this transaction's own selection scope.
func (tx *Transaction) resolveSelectionProvider(provider types.Provider) (types.PackageID, error) {
	matches := tx.reg.ByProvider(provider, registry.Flags(0))
	for _, m := range matches {
		if tx.packages.HasNode(m.ID) {
			return m.ID, nil
		}
	}
	return "", ErrNoCandidate{Provider: provider}
}

// resolveInstallationProvider tries, in order: the transaction's own
// selection scope, the installed set, then the full registry — the
// three-tier lookup spec.md §4.E specifies for installing new packages.
func (tx *Transaction) resolveInstallationProvider(provider types.Provider) (types.PackageID, error) {
	if id, err := tx.resolveSelectionProvider(provider); err == nil {
		return id, nil
	}
	if id, err := tx.resolveProvider(provider, registry.FlagInstalled); err == nil {
		return id, nil
	}
	return tx.resolveProvider(provider, registry.FlagAvailable)
}

// conflictNode is one state of one package in the 2-SAT reduction: true
// means "installed", false means "uninstalled".
type conflictNode struct {
	id        types.PackageID
	installed bool
}

// listConflicts builds the 2-SAT implication graph described in spec.md
// §4.E / transaction.rs's doc comment: each package is split into an
// installed-node and an uninstalled-node; a dependency edge A->B becomes an
// implication "install A implies install B"; a conflict edge A->C becomes
// "install A implies uninstall C". A package whose installed and
// uninstalled nodes land in the same strongly connected component can
// never be consistently satisfied.
func (tx *Transaction) listConflicts(lk lookup) ([]Conflict, error) {
	graph := dag.New[conflictNode]()

	for _, id := range tx.packages.Nodes() {
		pkgTrue := conflictNode{id: id, installed: true}
		graph.AddNode(pkgTrue)

		for _, dep := range tx.packages.Edges(id) {
			depTrue := conflictNode{id: dep, installed: true}
			graph.AddEdge(pkgTrue, depTrue)
		}

		pkg, ok := tx.reg.ByID(id)
		if !ok {
			return nil, ErrNoCandidate{Provider: types.Provider{Name: string(id)}}
		}

		for _, conflict := range pkg.Meta.Conflicts {
			provider := types.Provider{Kind: conflict.Kind, Name: conflict.Name}

			var conflictID types.PackageID
			var err error
			switch lk {
			case lookupGlobal:
				conflictID, err = tx.resolveInstallationProvider(provider)
			case lookupInstalledOnly:
				conflictID, err = tx.resolveProvider(provider, registry.FlagInstalled)
			}
			if err != nil {
				if _, isNoCandidate := err.(ErrNoCandidate); isNoCandidate {
					continue
				}
				return nil, err
			}

			conflictFalse := conflictNode{id: conflictID, installed: false}
			graph.AddEdge(pkgTrue, conflictFalse)
		}
	}

	components := graph.SCC()
	var conflicts []Conflict
	for _, component := range components {
		visited := make(map[types.PackageID]struct{})
		for _, node := range component {
			if _, already := visited[node.id]; already {
				var reasons []types.PackageID
				for _, revdep := range graph.Edges(conflictNode{id: node.id, installed: false}) {
					if revdep.installed {
						if _, ok := visited[revdep.id]; ok {
							reasons = append(reasons, revdep.id)
						}
					}
				}
				conflicts = append(conflicts, Conflict{PackageID: node.id, Reasons: reasons})
			}
			visited[node.id] = struct{}{}
		}
	}

	return conflicts, nil
}
