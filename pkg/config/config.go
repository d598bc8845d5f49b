// Package config loads the layered YAML configuration a moss installation
// reads its repository list from: a vendor copy under "usr/share/moss" and
// an admin copy under "etc/moss", merged by domain (spec.md §6
// "Configuration files"), mirroring the teacher's scope/merge split
// (original_source's crates/config/src/lib.rs) adapted to synchronous I/O.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const fileExtension = ".yaml"

// Domain is anything that can be loaded/merged from layered YAML files. A
// zero-value Domain must be a valid merge identity.
type Domain interface {
	// Merge combines other into the receiver, other taking precedence for
	// any key present in both, and returns the result.
	Merge(other any) any
}

// Scope picks where configuration is read from and (for admin-writable
// domains) saved to.
type Scope struct {
	// Root is the installation root; Vendor/Admin are resolved relative
	// to it ("usr/share/moss", "etc/moss"). Leave Root empty and set User
	// to load from a user config directory instead (e.g. XDG_CONFIG_HOME).
	Root string
	User string
}

// System returns a Scope rooted at root, reading vendor then admin layers.
func System(root string) Scope { return Scope{Root: root} }

// UserScope returns a Scope reading only from dir (typically
// $XDG_CONFIG_HOME/moss).
func UserScope(dir string) Scope { return Scope{User: dir} }

func (s Scope) searchDirs(program string) []string {
	if s.User != "" {
		return []string{filepath.Join(s.User, program)}
	}
	return []string{
		filepath.Join(s.Root, "usr", "share", program),
		filepath.Join(s.Root, "etc", program),
	}
}

func (s Scope) saveDir(program, domain string) string {
	if s.User != "" {
		return filepath.Join(s.User, program, domain+".d")
	}
	return filepath.Join(s.Root, "etc", program, domain+".d")
}

// RepoEntry is one entry of the "repo" domain: a named repository index
// source with a merge priority (spec.md §6).
type RepoEntry struct {
	URI         string `yaml:"uri"`
	Description string `yaml:"description"`
	Priority    uint64 `yaml:"priority"`
}

// RepoMap is the "repo" domain: id -> RepoEntry, keyed by repository
// identifier.
type RepoMap map[string]RepoEntry

// Merge implements Domain: entries from other override same-id entries in
// the receiver, matching the layered vendor-then-admin precedence order.
func (m RepoMap) Merge(other any) any {
	merged := make(RepoMap, len(m))
	for k, v := range m {
		merged[k] = v
	}
	if o, ok := other.(RepoMap); ok {
		for k, v := range o {
			merged[k] = v
		}
	}
	return merged
}

// Sorted returns the map's entries as a slice ordered by descending
// priority, then ascending id, matching spec.md's "higher = preferred"
// resolution order.
func (m RepoMap) Sorted() []struct {
	ID string
	RepoEntry
} {
	out := make([]struct {
		ID string
		RepoEntry
	}, 0, len(m))
	for id, e := range m {
		out = append(out, struct {
			ID string
			RepoEntry
		}{ID: id, RepoEntry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Manager loads and saves layered configuration for one program name
// ("moss").
type Manager struct {
	scope   Scope
	program string
}

// NewManager returns a Manager for program within scope.
func NewManager(scope Scope, program string) *Manager {
	return &Manager{scope: scope, program: program}
}

// LoadRepoMap loads and merges every "repo" domain file visible to the
// manager's scope, vendor files first so admin overrides win.
func (m *Manager) LoadRepoMap() (RepoMap, error) {
	merged := RepoMap{}
	paths, err := m.domainPaths("repo")
	if err != nil {
		return nil, err
	}

	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var layer RepoMap
		if err := yaml.Unmarshal(raw, &layer); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		merged = merged.Merge(layer).(RepoMap)
	}

	return merged, nil
}

// domainPaths enumerates every "<domain>.yaml" base file and every file
// under "<domain>.d/*.yaml" across the scope's search directories, vendor
// (or user) before admin, so later files in the returned order take
// precedence when merged.
func (m *Manager) domainPaths(domain string) ([]string, error) {
	var paths []string

	for _, dir := range m.scope.searchDirs(m.program) {
		base := filepath.Join(dir, domain+fileExtension)
		if fileExists(base) {
			paths = append(paths, base)
		}

		dotDir := filepath.Join(dir, domain+".d")
		entries, err := os.ReadDir(dotDir)
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), fileExtension) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			paths = append(paths, filepath.Join(dotDir, n))
		}
	}

	return paths, nil
}

// SaveRepoMap writes the repo domain under "<name>.yaml" in the admin (or
// user) save directory, creating it if necessary.
func (m *Manager) SaveRepoMap(name string, repos RepoMap) error {
	dir := m.scope.saveDir(m.program, "repo")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: create dir %s: %w", dir, err)
	}

	raw, err := yaml.Marshal(repos)
	if err != nil {
		return fmt.Errorf("config: marshal repo map: %w", err)
	}

	path := filepath.Join(dir, name+fileExtension)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
