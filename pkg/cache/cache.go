// Package cache manages the on-disk content-addressed stores a moss
// installation keeps under ".moss/cache" and ".moss/assets": downloaded
// package containers and the individual file assets unpacked from them
// (spec.md §6 "Filesystem layout", grounded on original_source's
// moss/src/client/cache.rs).
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/log"
	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/types"
)

// ErrMalformedHash is returned when a hash string is too short to derive a
// fan-out path from.
type ErrMalformedHash struct{ Hash string }

func (e ErrMalformedHash) Error() string {
	return fmt.Sprintf("cache: malformed hash %q", e.Hash)
}

// Cache resolves and manages downloaded package files and unpacked asset
// files for a single installation root.
type Cache struct {
	root *installation.Root

	mu         sync.Mutex
	inProgress map[string]struct{}
}

// New returns a Cache rooted at root.
func New(root *installation.Root) *Cache {
	return &Cache{root: root, inProgress: make(map[string]struct{})}
}

// DownloadPath returns the fully qualified path a downloaded package with
// the given content hash is stored at:
// ".moss/cache/downloads/v1/<hash[:5]>/<hash[-5:]>/<hash>".
func (c *Cache) DownloadPath(hash string) (string, error) {
	if len(hash) < 5 {
		return "", ErrMalformedHash{Hash: hash}
	}
	dir := filepath.Join(c.root.DownloadsDir(), hash[:5], hash[len(hash)-5:])
	return filepath.Join(dir, hash), nil
}

// AssetPath returns the fully qualified path an unpacked asset with the
// given lowercase hex digest is stored at:
// ".moss/assets/v2/<hash[:2]>/<hash[2:4]>/<hash[4:6]>/<hash>".
func (c *Cache) AssetPath(hash string) string {
	if len(hash) < 6 {
		return filepath.Join(c.root.AssetsDir(), hash)
	}
	dir := filepath.Join(c.root.AssetsDir(), hash[:2], hash[2:4], hash[4:6])
	return filepath.Join(dir, hash)
}

// Fetcher downloads a URL's content to w, matching the signature any HTTP
// client satisfies; it exists so Cache.Fetch stays transport-agnostic and
// testable.
type Fetcher func(url string, w io.Writer) error

// Fetch downloads uri to this cache's download store under hash, unless
// already cached, and reports the outcome via the CacheDownloadsTotal
// metric. A concurrency-unique ".part.<uuid>" scratch name is used so two
// processes racing to fetch the same hash never clobber each other's
// partial bytes; the loser's scratch file is simply discarded.
func (c *Cache) Fetch(uri, hash string, fetch Fetcher) (path string, wasCached bool, err error) {
	dest, err := c.DownloadPath(hash)
	if err != nil {
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, err
	}

	if fileExists(dest) {
		metrics.CacheDownloadsTotal.WithLabelValues("cached").Inc()
		return dest, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("cache: create dir for %s: %w", dest, err)
	}

	part := dest + ".part." + uuid.NewString()
	out, err := os.Create(part)
	if err != nil {
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("cache: create %s: %w", part, err)
	}

	if err := fetch(uri, out); err != nil {
		out.Close()
		os.Remove(part)
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("cache: fetch %s: %w", uri, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(part)
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, err
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		metrics.CacheDownloadsTotal.WithLabelValues("error").Inc()
		return "", false, fmt.Errorf("cache: rename %s: %w", part, err)
	}

	metrics.CacheDownloadsTotal.WithLabelValues("downloaded").Inc()
	return dest, false, nil
}

// tryBeginUnpack marks path as in-progress, returning false if another
// goroutine in this process already claimed it. Mirrors
// UnpackingInProgress from the teacher's cache.rs, scoped per-process; the
// ".part" suffix used by downloads provides the equivalent cross-process
// guarantee for fetches.
func (c *Cache) tryBeginUnpack(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.inProgress[path]; exists {
		return false
	}
	c.inProgress[path] = struct{}{}
	return true
}

func (c *Cache) endUnpack(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inProgress, path)
}

// AssetSplit identifies one asset's byte range within a package's decoded
// content blob, addressed by its own digest rather than the package's.
type AssetSplit struct {
	Digest types.Hash128
	Start  uint64
	End    uint64
}

// UnpackAssets splits content (the fully decompressed Content payload of a
// package) into individual asset files under AssetPath, skipping any asset
// that already exists or that another goroutine is already unpacking.
func (c *Cache) UnpackAssets(content []byte, splits []AssetSplit) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CacheUnpackDuration)

	for _, s := range splits {
		hash := digest.FormatHash128(s.Digest)
		path := c.AssetPath(hash)

		if !c.tryBeginUnpack(path) {
			continue
		}

		if fileExists(path) {
			c.endUnpack(path)
			continue
		}

		if s.End > uint64(len(content)) || s.Start > s.End {
			c.endUnpack(path)
			return fmt.Errorf("cache: asset split [%d:%d] out of range for content of length %d", s.Start, s.End, len(content))
		}

		if err := writeAsset(path, content[s.Start:s.End]); err != nil {
			c.endUnpack(path)
			return err
		}

		c.endUnpack(path)
		log.WithComponent("cache").Debug().Str("hash", hash).Msg("asset unpacked")
	}

	return nil
}

func writeAsset(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("cache: create dir for %s: %w", path, err)
	}
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: rename %s: %w", tmp, err)
	}
	return nil
}

// AssetExists reports whether an asset with the given hex digest is
// already present in the asset store.
func (c *Cache) AssetExists(hash string) bool {
	return fileExists(c.AssetPath(hash))
}

// EnsureCachedirTag writes ".moss/cache/CACHEDIR.TAG" if absent, marking
// the cache directory for exclusion by backup tools per the CACHEDIR.TAG
// convention spec.md §6 references.
func (c *Cache) EnsureCachedirTag() error {
	path := filepath.Join(c.root.CacheDir(), "CACHEDIR.TAG")
	if fileExists(path) {
		return nil
	}
	const body = "Signature: 8a477f597d28d172789f06886806bc55\n" +
		"# This file is a cache directory tag created by moss.\n" +
		"# For information about cache directory tags see https://bford.info/cachedir/\n"
	if err := os.MkdirAll(c.root.CacheDir(), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
