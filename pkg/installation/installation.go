// Package installation owns the filesystem layout conventions of a moss
// root: the ".moss" scaffolding, the lockfile path, and the active-state
// pointer at "usr/.stateID" (spec.md §6 "Filesystem layout").
package installation

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cuemby/moss/pkg/types"
)

// Root describes the directory layout rooted at a single moss installation.
// Ephemeral clients use a Root whose Path differs from "/" and whose blit
// root must never coincide with the installation root (spec.md §3).
type Root struct {
	Path string
}

// New returns a Root rooted at path.
func New(path string) *Root { return &Root{Path: path} }

// MossDir is "<root>/.moss".
func (r *Root) MossDir() string { return filepath.Join(r.Path, ".moss") }

// LockPath is "<root>/.moss/.moss-lockfile".
func (r *Root) LockPath() string { return filepath.Join(r.MossDir(), ".moss-lockfile") }

// DBDir is "<root>/.moss/db".
func (r *Root) DBDir() string { return filepath.Join(r.MossDir(), "db") }

// MetaDBPath is "<root>/.moss/db/meta".
func (r *Root) MetaDBPath() string { return filepath.Join(r.DBDir(), "meta") }

// StateDBPath is "<root>/.moss/db/state".
func (r *Root) StateDBPath() string { return filepath.Join(r.DBDir(), "state") }

// LayoutDBPath is "<root>/.moss/db/layout".
func (r *Root) LayoutDBPath() string { return filepath.Join(r.DBDir(), "layout") }

// CacheDir is "<root>/.moss/cache".
func (r *Root) CacheDir() string { return filepath.Join(r.MossDir(), "cache") }

// DownloadsDir is "<root>/.moss/cache/downloads/v1".
func (r *Root) DownloadsDir() string { return filepath.Join(r.CacheDir(), "downloads", "v1") }

// AssetsDir is "<root>/.moss/assets/v2".
func (r *Root) AssetsDir() string { return filepath.Join(r.MossDir(), "assets", "v2") }

// RepoDir is "<root>/.moss/repo".
func (r *Root) RepoDir() string { return filepath.Join(r.MossDir(), "repo") }

// RootTreeDir is "<root>/.moss/root".
func (r *Root) RootTreeDir() string { return filepath.Join(r.MossDir(), "root") }

// StagingDir is "<root>/.moss/root/staging", the scratch tree for
// in-flight transactions. It is always wiped before a new blit starts.
func (r *Root) StagingDir() string { return filepath.Join(r.RootTreeDir(), "staging") }

// IsolationDir is "<root>/.moss/root/isolation", the scratch tree triggers
// run inside.
func (r *Root) IsolationDir() string { return filepath.Join(r.RootTreeDir(), "isolation") }

// ArchivedUsr is "<root>/.moss/root/<id>/usr", the archived prior root for
// state id.
func (r *Root) ArchivedUsr(id types.StateID) string {
	return filepath.Join(r.RootTreeDir(), strconv.FormatUint(uint64(id), 10), "usr")
}

// ArchivedStateDir is "<root>/.moss/root/<id>", removed wholesale by prune
// once an archived state is no longer referenced.
func (r *Root) ArchivedStateDir(id types.StateID) string {
	return filepath.Join(r.RootTreeDir(), strconv.FormatUint(uint64(id), 10))
}

// UsrDir is "<root>/usr", the active tree.
func (r *Root) UsrDir() string { return filepath.Join(r.Path, "usr") }

// StateIDPath is "<root>/usr/.stateID".
func (r *Root) StateIDPath() string { return filepath.Join(r.UsrDir(), ".stateID") }

// OSReleasePath is "<root>/usr/lib/os-release".
func (r *Root) OSReleasePath() string { return filepath.Join(r.UsrDir(), "lib", "os-release") }

// Scaffold creates every directory the installation root needs to exist
// before a transaction can run. It is idempotent.
func (r *Root) Scaffold() error {
	dirs := []string{
		r.DBDir(),
		r.DownloadsDir(),
		r.AssetsDir(),
		r.RepoDir(),
		r.StagingDir(),
		r.IsolationDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("installation: scaffold %s: %w", d, err)
		}
	}
	return nil
}

// CurrentStateID reads "usr/.stateID", the source of truth for which state
// is active. A legacy symlink-based layout — where .stateID itself is a
// symlink encoding the id in its target rather than a plain-text file — is
// tolerated read-only for backward compatibility and is never written by
// this package (spec.md §3, §9 Open Questions).
func (r *Root) CurrentStateID() (types.StateID, error) {
	path := r.StateIDPath()

	if target, err := os.Readlink(path); err == nil {
		return parseLegacySymlinkStateID(target)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("installation: read %s: %w", path, err)
	}

	id, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("installation: parse state id in %s: %w", path, err)
	}
	return types.StateID(id), nil
}

// parseLegacySymlinkStateID extracts a state id from a legacy symlink
// target of the form "../.moss/root/<id>/usr" or a bare "<id>".
func parseLegacySymlinkStateID(target string) (types.StateID, error) {
	base := filepath.Base(filepath.Dir(target))
	if base == "." || base == "/" {
		base = filepath.Base(target)
	}
	id, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("installation: legacy state symlink target %q: %w", target, err)
	}
	return types.StateID(id), nil
}

// WriteStateID writes id to "usr/.stateID" as plain text, overwriting any
// legacy symlink form. This package never emits the legacy form.
func (r *Root) WriteStateID(id types.StateID) error {
	path := r.StateIDPath()
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("installation: remove legacy state symlink %s: %w", path, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(id), 10)), 0644); err != nil {
		return fmt.Errorf("installation: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("installation: rename %s: %w", tmp, err)
	}
	return nil
}

// IsSystemRoot reports whether r is the literal filesystem root "/", the
// one condition under which system-scope triggers run unsandboxed
// (spec.md §5 "System scope").
func (r *Root) IsSystemRoot() bool {
	return filepath.Clean(r.Path) == "/"
}
