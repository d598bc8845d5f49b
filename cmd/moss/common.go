package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/ingest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/lock"
	"github.com/cuemby/moss/pkg/log"
	"github.com/cuemby/moss/pkg/registry"
	"github.com/cuemby/moss/pkg/types"
)

// dbs bundles the three open bbolt handles an operation against one
// installation root needs, so every command closes exactly one thing.
type dbs struct {
	meta   *meta.DB
	state  *state.DB
	layout *layout.DB
}

func (d *dbs) Close() {
	d.meta.Close()
	d.state.Close()
	d.layout.Close()
}

// openRoot scaffolds and opens the three databases for root, read-only
// when a command only inspects the installation.
func openRoot(root *installation.Root, readOnly bool) (*dbs, error) {
	if !readOnly {
		if err := root.Scaffold(); err != nil {
			return nil, err
		}
	}

	metaDB, err := meta.Open(root.MetaDBPath(), readOnly)
	if err != nil {
		return nil, fmt.Errorf("open meta db: %w", err)
	}
	stateDB, err := state.Open(root.StateDBPath(), readOnly)
	if err != nil {
		metaDB.Close()
		return nil, fmt.Errorf("open state db: %w", err)
	}
	layoutDB, err := layout.Open(root.LayoutDBPath(), readOnly)
	if err != nil {
		metaDB.Close()
		stateDB.Close()
		return nil, fmt.Errorf("open layout db: %w", err)
	}

	return &dbs{meta: metaDB, state: stateDB, layout: layoutDB}, nil
}

// acquireLock blocks (logging a single contention notice) until the
// installation's advisory lock is free, per spec.md §5 "Shared-resource
// policy": mutating commands wait rather than fail outright.
func acquireLock(root *installation.Root) (*lock.File, error) {
	notified := false
	return lock.Lock(root.LockPath(), func() {
		if !notified {
			fmt.Fprintln(os.Stderr, "waiting for another moss process to release the installation lock...")
			notified = true
		}
	})
}

// currentState returns the installation's active state, or the zero state
// if none has ever been recorded.
func currentState(root *installation.Root, stateDB *state.DB) (types.State, bool, error) {
	id, err := root.CurrentStateID()
	if err != nil {
		return types.State{}, false, nil
	}
	st, err := stateDB.Get(id)
	if err != nil {
		return types.State{}, false, err
	}
	return st, true, nil
}

// repoIndexPath is where a repository's refreshed index database lives:
// "<root>/.moss/repo/<id>/index".
func repoIndexPath(root *installation.Root, id string) string {
	return filepath.Join(root.RepoDir(), id, "index")
}

// buildRegistry assembles a registry.Registry from the installation's
// active selections and every configured repository's refreshed index,
// highest declared priority first (spec.md §4.D).
func buildRegistry(root *installation.Root, metaDB *meta.DB, active types.State, cfg *config.Manager) (*registry.Registry, func(), error) {
	reg := registry.New()
	reg.AddPlugin(registry.NewActivePlugin(registry.NewActive(metaDB, active.Selections)))

	repos, err := cfg.LoadRepoMap()
	if err != nil {
		return nil, nil, fmt.Errorf("load repo config: %w", err)
	}

	var opened []*meta.DB
	closeAll := func() {
		for _, db := range opened {
			db.Close()
		}
	}

	for _, entry := range repos.Sorted() {
		path := repoIndexPath(root, entry.ID)
		if _, err := os.Stat(path); err != nil {
			log.WithComponent("cli").Warn().Str("repo", entry.ID).Msg("repository index not yet synced, skipping")
			continue
		}
		db, err := meta.Open(path, true)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open repo index %s: %w", entry.ID, err)
		}
		opened = append(opened, db)
		reg.AddPlugin(registry.NewRepositoryPlugin(registry.NewRepository(entry.ID, entry.Priority, db)))
	}

	return reg, closeAll, nil
}

// httpFetch is the cache.Fetcher used for package and index downloads. It
// has no ecosystem library equivalent in the pack worth adopting just for
// a GET-and-stream, so it stays on net/http (justified in DESIGN.md).
func httpFetch(url string, w io.Writer) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

// resolvePackage looks up arg against the registry: first as an exact
// package id, then as a package name (newest release wins), matching
// spec.md §4.D's lookup order for a CLI-supplied identifier.
func resolvePackage(reg *registry.Registry, arg string) (registry.Package, error) {
	if pkg, ok := reg.ByID(types.PackageID(arg)); ok {
		return pkg, nil
	}
	matches := reg.ByName(arg, registry.Flags(0))
	if len(matches) == 0 {
		return registry.Package{}, fmt.Errorf("no package found matching %q", arg)
	}
	return matches[0], nil
}

// ingestLooseStone reads a loose .stone file off disk, registers it with
// cobble so the resolver can see it, and stages its layout/assets so the
// engine can blit it once the transaction is finalised.
func ingestLooseStone(path string, c *cache.Cache, metaDB *meta.DB, layoutDB *layout.DB, cobble *registry.Cobble) (types.PackageID, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	pkg, err := ingest.ReadPackage(f)
	if err != nil {
		return "", fmt.Errorf("ingest %s: %w", path, err)
	}

	if len(pkg.Splits) > 0 {
		if err := c.UnpackAssets(pkg.Content, pkg.Splits); err != nil {
			return "", fmt.Errorf("unpack assets from %s: %w", path, err)
		}
	}
	if err := metaDB.Put(pkg.Meta); err != nil {
		return "", fmt.Errorf("store metadata for %s: %w", pkg.Meta.ID, err)
	}
	if err := layoutDB.BatchAdd(pkg.Meta.ID, pkg.Layouts); err != nil {
		return "", fmt.Errorf("store layout for %s: %w", pkg.Meta.ID, err)
	}

	cobble.Add(registry.Package{ID: pkg.Meta.ID, Meta: pkg.Meta, Flags: registry.FlagAvailable.With(registry.FlagSource)})
	return pkg.Meta.ID, nil
}

// isLooseStonePath reports whether arg names a readable file on disk
// rather than a package name/id to resolve through the registry.
func isLooseStonePath(arg string) bool {
	info, err := os.Stat(arg)
	return err == nil && !info.IsDir()
}

// cachePackage downloads and unpacks one remote package into the local
// caches and DBs, skipping anything already resident, mirroring the
// teacher's download-then-unpack-then-store pipeline (original_source's
// moss/src/client/mod.rs "cache_packages").
func cachePackage(pkg types.Meta, c *cache.Cache, metaDB *meta.DB, layoutDB *layout.DB) error {
	existing, err := layoutDB.Query([]types.PackageID{pkg.ID})
	if err != nil {
		return fmt.Errorf("query existing layout for %s: %w", pkg.ID, err)
	}
	if len(existing) > 0 {
		return nil
	}
	if !pkg.HasURI || !pkg.HasHash {
		return fmt.Errorf("package %s has no download location", pkg.ID)
	}

	path, _, err := c.Fetch(pkg.URI, pkg.Hash, httpFetch)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", pkg.ID, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open downloaded %s: %w", path, err)
	}
	defer f.Close()

	ingested, err := ingest.ReadPackage(f)
	if err != nil {
		return fmt.Errorf("ingest downloaded %s: %w", pkg.ID, err)
	}

	if len(ingested.Splits) > 0 {
		if err := c.UnpackAssets(ingested.Content, ingested.Splits); err != nil {
			return fmt.Errorf("unpack assets for %s: %w", pkg.ID, err)
		}
	}
	if err := metaDB.Put(ingested.Meta); err != nil {
		return fmt.Errorf("store metadata for %s: %w", pkg.ID, err)
	}
	if err := layoutDB.BatchAdd(ingested.Meta.ID, ingested.Layouts); err != nil {
		return fmt.Errorf("store layout for %s: %w", pkg.ID, err)
	}
	return nil
}
