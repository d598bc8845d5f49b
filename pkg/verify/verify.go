// Package verify re-hashes every asset referenced by installed layouts and
// cross-checks every state's VFS against disk, then resolves what it finds:
// drop corrupt assets, re-cache the packages that reference them, and
// reblit every affected state (spec.md §4.I), grounded on
// original_source/moss/src/client/verify.rs.
package verify

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
)

// IssueKind discriminates the three defect classes verify detects.
type IssueKind int

const (
	IssueMissingAsset IssueKind = iota
	IssueCorruptAsset
	IssueMissingVFSPath
)

// Issue is one detected defect.
type Issue struct {
	Kind IssueKind

	// MissingAsset, CorruptAsset
	Hash     string
	Files    []string
	Packages []types.PackageID

	// MissingVFSPath
	Path  string
	State types.StateID
}

func (i Issue) String() string {
	switch i.Kind {
	case IssueMissingAsset:
		return fmt.Sprintf("missing asset %s (%s)", i.Hash, strings.Join(i.Files, ", "))
	case IssueCorruptAsset:
		return fmt.Sprintf("corrupt asset %s (%s)", i.Hash, strings.Join(i.Files, ", "))
	case IssueMissingVFSPath:
		return fmt.Sprintf("missing path %s in state #%d", i.Path, i.State)
	default:
		return "unknown issue"
	}
}

// VerifyAssets re-hashes every unique regular-file asset referenced by the
// layout database and reports any that are missing or whose on-disk bytes
// no longer match their recorded hash.
func VerifyAssets(layoutDB *layout.DB, c *cache.Cache) ([]Issue, error) {
	entries, err := layoutDB.All()
	if err != nil {
		return nil, fmt.Errorf("verify: list layouts: %w", err)
	}

	type assetRef struct {
		files    map[string]struct{}
		packages map[types.PackageID]struct{}
	}
	byHash := make(map[types.Hash128]*assetRef)

	for _, l := range entries {
		if l.Entry.Kind != types.EntryRegular || l.Entry.Hash.IsZero() {
			continue
		}
		ref, ok := byHash[l.Entry.Hash]
		if !ok {
			ref = &assetRef{files: make(map[string]struct{}), packages: make(map[types.PackageID]struct{})}
			byHash[l.Entry.Hash] = ref
		}
		ref.files[l.Entry.Target] = struct{}{}
		ref.packages[l.PackageID] = struct{}{}
	}

	hashes := make([]types.Hash128, 0, len(byHash))
	for h := range byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return digest.FormatHash128(hashes[i]) < digest.FormatHash128(hashes[j])
	})

	var issues []Issue
	for _, h := range hashes {
		ref := byHash[h]
		hexHash := digest.FormatHash128(h)
		files := setToSortedSlice(ref.files)
		packages := packageSetToSlice(ref.packages)

		path := c.AssetPath(hexHash)
		if !c.AssetExists(hexHash) {
			issues = append(issues, Issue{Kind: IssueMissingAsset, Hash: hexHash, Files: files, Packages: packages})
			continue
		}

		verified, err := rehashFile(path)
		if err != nil {
			return nil, fmt.Errorf("verify: rehash %s: %w", path, err)
		}
		if digest.FormatHash128(verified) != hexHash {
			metrics.VerifyCorruptAssetsTotal.Inc()
			issues = append(issues, Issue{Kind: IssueCorruptAsset, Hash: hexHash, Files: files, Packages: packages})
		}
	}

	return issues, nil
}

func rehashFile(path string) (types.Hash128, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Hash128{}, err
	}
	defer f.Close()

	sink := digest.NewCountingSink()
	if _, err := io.Copy(sink, f); err != nil {
		return types.Hash128{}, err
	}
	return sink.Sum128(), nil
}

// VerifyStates walks every recorded state's VFS and confirms every path
// exists under that state's materialised root (the live root for the
// active state, the archive directory otherwise). A path that is itself a
// broken symlink in a non-active state is tolerated: symlinks baked from a
// different state's tree routinely point through paths that only resolve
// once that state is live.
func VerifyStates(stateDB *state.DB, layoutDB *layout.DB, root *installation.Root) ([]Issue, error) {
	states, err := stateDB.All()
	if err != nil {
		return nil, fmt.Errorf("verify: list states: %w", err)
	}

	activeID, hasActive := currentStateID(root)

	var issues []Issue
	for _, s := range states {
		ids := make([]types.PackageID, 0, len(s.Selections))
		for _, sel := range s.Selections {
			ids = append(ids, sel.PackageID)
		}
		entries, err := layoutDB.Query(ids)
		if err != nil {
			return nil, fmt.Errorf("verify: query layouts for state %d: %w", s.ID, err)
		}

		isActive := hasActive && s.ID == activeID
		base := root.ArchivedUsr(s.ID)
		if isActive {
			base = root.UsrDir()
		}

		for _, l := range entries {
			rel := strings.TrimPrefix(l.Entry.Target, "/usr/")
			if l.Entry.Target == "/usr" {
				rel = ""
			} else if rel == l.Entry.Target {
				rel = strings.TrimPrefix(l.Entry.Target, "/")
			}
			path := filepath.Join(base, rel)

			if _, err := os.Stat(path); err == nil {
				continue
			}
			if fi, lerr := os.Lstat(path); lerr == nil && fi.Mode()&os.ModeSymlink != 0 && !isActive {
				continue
			}
			issues = append(issues, Issue{Kind: IssueMissingVFSPath, Path: path, State: s.ID})
		}
	}

	return issues, nil
}

func currentStateID(root *installation.Root) (types.StateID, bool) {
	id, err := root.CurrentStateID()
	if err != nil {
		return 0, false
	}
	return id, true
}

// AffectedPackages returns the deduplicated set of packages named by any
// MissingAsset/CorruptAsset issue in issues.
func AffectedPackages(issues []Issue) []types.PackageID {
	seen := make(map[types.PackageID]struct{})
	for _, issue := range issues {
		for _, pkg := range issue.Packages {
			seen[pkg] = struct{}{}
		}
	}
	return packageSetToSlice(seen)
}

// AffectedStates returns every state id that either selects one of
// affectedPackages or was itself flagged with a MissingVFSPath issue.
func AffectedStates(issues []Issue, states []types.State, affectedPackages []types.PackageID) []types.StateID {
	affected := make(map[types.PackageID]struct{}, len(affectedPackages))
	for _, p := range affectedPackages {
		affected[p] = struct{}{}
	}

	ids := make(map[types.StateID]struct{})
	for _, s := range states {
		for _, sel := range s.Selections {
			if _, ok := affected[sel.PackageID]; ok {
				ids[s.ID] = struct{}{}
				break
			}
		}
	}
	for _, issue := range issues {
		if issue.Kind == IssueMissingVFSPath {
			ids[issue.State] = struct{}{}
		}
	}

	out := make([]types.StateID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RemoveCorruptAssets deletes the on-disk asset file for every CorruptAsset
// issue, so a subsequent re-cache is forced to rewrite it from scratch.
func RemoveCorruptAssets(issues []Issue, c *cache.Cache) error {
	for _, issue := range issues {
		if issue.Kind != IssueCorruptAsset {
			continue
		}
		if err := os.Remove(c.AssetPath(issue.Hash)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("verify: remove corrupt asset %s: %w", issue.Hash, err)
		}
	}
	return nil
}

// ReblitState re-runs the transaction engine's tree build and blit for one
// state's selection set: in place (the live root) if it is the active
// state, otherwise directly into its archive directory. Triggers are
// skipped — a reblit is a repair, not a new transaction.
func ReblitState(e *engine.Engine, s types.State, isActive bool) error {
	return e.Reblit(s, isActive)
}

func setToSortedSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func packageSetToSlice(set map[types.PackageID]struct{}) []types.PackageID {
	out := make([]types.PackageID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
