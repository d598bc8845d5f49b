package engine

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/types"
	"github.com/cuemby/moss/pkg/vfs"
)

// ErrUnsupportedEntry is returned when a layout entry names a device,
// fifo, or socket node — unimplemented by design (spec.md §4.G step 3,
// §9 Open Questions: "current scope fails gracefully").
type ErrUnsupportedEntry struct {
	Path string
	Kind types.EntryKind
}

func (e ErrUnsupportedEntry) Error() string {
	return fmt.Sprintf("engine: unsupported layout entry kind %s at %s", e.Kind, e.Path)
}

// blitTree wipes blitRoot and recreates it from tree, keeping parent
// directory descriptors open for the duration of the walk so every inode
// is created via a relative *at syscall (spec.md §4.G step 3), grounded on
// original_source/moss/src/client/mod.rs's blit_root/blit_element/
// blit_element_item.
func blitTree(tree *vfs.Tree, blitRoot string, c *cache.Cache) error {
	if err := os.RemoveAll(blitRoot); err != nil {
		return fmt.Errorf("engine: wipe %s: %w", blitRoot, err)
	}
	if err := os.Mkdir(blitRoot, 0755); err != nil {
		return fmt.Errorf("engine: mkdir %s: %w", blitRoot, err)
	}

	rootFd, err := unix.Open(blitRoot, unix.O_DIRECTORY|unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("engine: open %s: %w", blitRoot, err)
	}
	defer unix.Close(rootFd)

	dirFds := map[string]int{"/": rootFd}
	defer func() {
		for path, fd := range dirFds {
			if path != "/" {
				unix.Close(fd)
			}
		}
	}()

	return tree.Walk(func(path string, kind types.EntryKind, entry types.Entry, mode uint32, owner types.PackageID, parentPath string) error {
		if path == "/" {
			return nil // the synthetic root; already created above
		}

		parentFd, ok := dirFds[parentPath]
		if !ok {
			return fmt.Errorf("engine: blit %s: parent directory %s not yet materialised", path, parentPath)
		}
		name := entryName(path)

		switch kind {
		case types.EntryDirectory:
			if err := unix.Mkdirat(parentFd, name, mode); err != nil && err != unix.EEXIST {
				return fmt.Errorf("engine: mkdirat %s: %w", path, err)
			}
			fd, err := unix.Openat(parentFd, name, unix.O_DIRECTORY|unix.O_RDONLY, 0)
			if err != nil {
				return fmt.Errorf("engine: openat %s: %w", path, err)
			}
			dirFds[path] = fd

		case types.EntryRegular:
			if err := blitRegular(c, parentFd, name, entry.Hash, mode); err != nil {
				return fmt.Errorf("engine: blit %s: %w", path, err)
			}

		case types.EntrySymlink:
			if err := unix.Symlinkat(entry.Source, parentFd, name); err != nil {
				return fmt.Errorf("engine: symlinkat %s: %w", path, err)
			}

		default:
			return ErrUnsupportedEntry{Path: path, Kind: kind}
		}

		return nil
	})
}

// blitRegular materialises a Regular(hash) entry: linkat from the asset
// pool into parentFd, then fix up permissions, since the asset's own file
// mode on disk is whatever the cache's writeAsset left it as. The
// well-known empty-file hash is special-cased to a fresh empty file rather
// than a hardlink so that every zero-length file keeps a distinct inode
// (https://github.com/serpent-os/tools/issues/372, carried via
// types.EmptyFileHash).
func blitRegular(c *cache.Cache, parentFd int, name string, hash types.Hash128, mode uint32) error {
	if hash.IsZero() {
		fd, err := unix.Openat(parentFd, name, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
		if err != nil {
			return fmt.Errorf("create empty file: %w", err)
		}
		return unix.Close(fd)
	}

	assetPath := c.AssetPath(digest.FormatHash128(hash))
	if err := unix.Linkat(unix.AT_FDCWD, assetPath, parentFd, name, 0); err != nil {
		return fmt.Errorf("linkat %s: %w", assetPath, err)
	}
	if err := unix.Fchmodat(parentFd, name, mode, 0); err != nil {
		return fmt.Errorf("fchmodat %s: %w", name, err)
	}
	return nil
}

func entryName(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}
