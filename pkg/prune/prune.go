// Package prune implements the refcount-based garbage collector for
// installation states and the cache/asset pools beneath them (spec.md §4.I),
// grounded on original_source/moss/src/client/prune.rs.
package prune

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
)

// Kind discriminates the two prune strategies.
type Kind int

const (
	KeepRecent Kind = iota
	RemoveOne
)

// Strategy selects which states a prune pass considers for removal.
type Strategy struct {
	Kind Kind

	// KeepRecent
	Keep         uint64
	IncludeNewer bool

	// RemoveOne
	StateID types.StateID
}

// ErrNoActiveState is returned when the installation has no recorded
// current state — pruning never runs against a possibly-unconfigured root.
var ErrNoActiveState = fmt.Errorf("prune: installation has no active state")

// ErrPruneActiveState is returned if a strategy's candidate set would
// include the currently active state; that state is never eligible.
var ErrPruneActiveState = fmt.Errorf("prune: refusing to remove the active state")

// Plan is the computed, not-yet-applied result of a prune pass: exactly
// which states and packages would be removed.
type Plan struct {
	States   []types.State
	Packages []types.PackageID
}

// Compute selects removal candidates per strategy and nets out package
// refcounts across every remaining state, without touching any DB or disk
// path — callers render this for confirmation before calling Execute.
func Compute(strategy Strategy, stateDB *state.DB, currentID types.StateID) (Plan, error) {
	all, err := stateDB.All()
	if err != nil {
		return Plan{}, fmt.Errorf("prune: list states: %w", err)
	}

	removalIDs, err := selectRemovalIDs(strategy, all, currentID)
	if err != nil {
		return Plan{}, err
	}
	if len(removalIDs) == 0 {
		return Plan{}, nil
	}

	removalSet := make(map[types.StateID]struct{}, len(removalIDs))
	for _, id := range removalIDs {
		removalSet[id] = struct{}{}
	}

	packageCounts := make(map[types.PackageID]int)
	var removals []types.State

	for _, s := range all {
		for _, sel := range s.Selections {
			packageCounts[sel.PackageID]++
		}
		if _, remove := removalSet[s.ID]; remove {
			if s.ID == currentID {
				return Plan{}, ErrPruneActiveState
			}
			for _, sel := range s.Selections {
				packageCounts[sel.PackageID]--
			}
			removals = append(removals, s)
		}
	}

	var packageRemovals []types.PackageID
	for pkg, count := range packageCounts {
		if count == 0 {
			packageRemovals = append(packageRemovals, pkg)
		}
	}
	sort.Slice(packageRemovals, func(i, j int) bool { return packageRemovals[i] < packageRemovals[j] })
	sort.Slice(removals, func(i, j int) bool { return removals[i].ID < removals[j].ID })

	return Plan{States: removals, Packages: packageRemovals}, nil
}

func selectRemovalIDs(strategy Strategy, all []types.State, currentID types.StateID) ([]types.StateID, error) {
	switch strategy.Kind {
	case RemoveOne:
		for _, s := range all {
			if s.ID == strategy.StateID {
				return []types.StateID{s.ID}, nil
			}
		}
		return nil, nil

	case KeepRecent:
		var candidates []types.State
		for _, s := range all {
			if strategy.IncludeNewer {
				if s.ID != currentID {
					candidates = append(candidates, s)
				}
			} else if s.ID < currentID {
				candidates = append(candidates, s)
			}
		}

		limit := int(strategy.Keep) - 1
		if limit < 0 {
			limit = 0
		}
		numToRemove := len(candidates) - limit
		if numToRemove <= 0 {
			return nil, nil
		}

		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Created.Before(candidates[j].Created) })

		ids := make([]types.StateID, 0, numToRemove)
		for i := 0; i < numToRemove; i++ {
			ids = append(ids, candidates[i].ID)
		}
		return ids, nil

	default:
		return nil, fmt.Errorf("prune: unknown strategy kind %d", strategy.Kind)
	}
}

// Result summarises what Execute actually removed.
type Result struct {
	StatesRemoved    int
	PackagesRemoved  int
	DownloadsRemoved int
	AssetsRemoved    int
}

// Execute commits plan: batch-removes states/meta/layout rows, then
// reconciles the download and asset pools against what remains referenced,
// and finally deletes each removed state's archive directory (spec.md §4.I
// steps 1-6).
func Execute(plan Plan, stateDB *state.DB, metaDB *meta.DB, layoutDB *layout.DB, root *installation.Root) (Result, error) {
	var result Result

	if len(plan.States) == 0 {
		return result, nil
	}

	stateIDs := make([]types.StateID, len(plan.States))
	for i, s := range plan.States {
		stateIDs[i] = s.ID
	}

	if err := stateDB.BatchRemove(stateIDs); err != nil {
		return result, fmt.Errorf("prune: remove states: %w", err)
	}
	if err := metaDB.BatchRemove(plan.Packages); err != nil {
		return result, fmt.Errorf("prune: remove meta: %w", err)
	}
	if err := layoutDB.BatchRemove(plan.Packages); err != nil {
		return result, fmt.Errorf("prune: remove layout: %w", err)
	}
	result.StatesRemoved = len(stateIDs)
	result.PackagesRemoved = len(plan.Packages)
	metrics.PruneStatesRemovedTotal.Add(float64(result.StatesRemoved))

	finalDownloadHashes, err := metaDB.FileHashes()
	if err != nil {
		return result, fmt.Errorf("prune: final download hashes: %w", err)
	}
	removedDownloads, err := removeOrphanedFiles(root.DownloadsDir(), finalDownloadHashes)
	if err != nil {
		return result, fmt.Errorf("prune: reconcile downloads: %w", err)
	}
	result.DownloadsRemoved = removedDownloads

	finalAssetHashSet, err := layoutDB.FileHashes()
	if err != nil {
		return result, fmt.Errorf("prune: final asset hashes: %w", err)
	}
	finalAssetHashes := make(map[string]struct{}, len(finalAssetHashSet))
	for h := range finalAssetHashSet {
		finalAssetHashes[digest.FormatHash128(h)] = struct{}{}
	}
	removedAssets, err := removeOrphanedFiles(root.AssetsDir(), finalAssetHashes)
	if err != nil {
		return result, fmt.Errorf("prune: reconcile assets: %w", err)
	}
	result.AssetsRemoved = removedAssets
	metrics.PruneAssetsRemovedTotal.Add(float64(removedAssets))

	for _, id := range stateIDs {
		dir := root.ArchivedStateDir(id)
		if err := os.RemoveAll(dir); err != nil {
			return result, fmt.Errorf("prune: remove archive %s: %w", dir, err)
		}
	}

	return result, nil
}

// removeOrphanedFiles deletes every file under poolRoot whose filename
// (the content hash) is absent from keepHashes, along with any ".part"
// sibling, then removes parent directories left empty by the deletion.
func removeOrphanedFiles(poolRoot string, keepHashes map[string]struct{}) (int, error) {
	installed, err := enumerateFileHashes(poolRoot)
	if err != nil {
		return 0, err
	}

	removed := 0
	for hash, path := range installed {
		if _, keep := keepHashes[hash]; keep {
			continue
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		_ = os.Remove(path + ".part")
		removed++

		removeEmptyDirsUpTo(filepath.Dir(path), poolRoot)
	}

	return removed, nil
}

// enumerateFileHashes walks poolRoot and returns every regular file found,
// keyed by its filename (the hash fan-out scheme always names the leaf file
// after the full hash).
func enumerateFileHashes(poolRoot string) (map[string]string, error) {
	out := make(map[string]string)
	if _, err := os.Stat(poolRoot); os.IsNotExist(err) {
		return out, nil
	}

	err := filepath.WalkDir(poolRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if filepath.Ext(name) == ".part" {
			return nil
		}
		out[name] = path
		return nil
	})
	return out, err
}

// removeEmptyDirsUpTo removes dir and successive empty parents, stopping at
// (not including) root.
func removeEmptyDirsUpTo(dir, root string) {
	for dir != root && len(dir) > len(root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
