// Package types holds the core domain model shared by every moss package:
// package identity, metadata, layout entries, selections and states.
package types

import (
	"fmt"
	"time"
)

// PackageID is the deterministic "{name}-{version}-{release}.{architecture}"
// string that doubles as the content key for a package across every DB.
type PackageID string

// DependencyKind is the closed enumeration of dependency/provider flavours
// a package can carry, encoded on the wire as a single byte (see pkg/stone).
type DependencyKind uint8

const (
	DependencyPackageName DependencyKind = iota
	DependencySharedLibrary
	DependencyPkgConfig
	DependencyInterpreter
	DependencyCMake
	DependencyPython
	DependencyBinary
	DependencySystemBinary
	DependencyPkgConfig32
)

func (k DependencyKind) String() string {
	switch k {
	case DependencyPackageName:
		return "name"
	case DependencySharedLibrary:
		return "soname"
	case DependencyPkgConfig:
		return "pkgconfig"
	case DependencyInterpreter:
		return "interpreter"
	case DependencyCMake:
		return "cmake"
	case DependencyPython:
		return "python"
	case DependencyBinary:
		return "binary"
	case DependencySystemBinary:
		return "sysbinary"
	case DependencyPkgConfig32:
		return "pkgconfig32"
	default:
		return fmt.Sprintf("dependency(%d)", uint8(k))
	}
}

// ParseDependencyKind decodes the on-wire byte form of the closed
// enumeration; pkg/stone's decodeDependencyKind delegates to it.
func ParseDependencyKind(b uint8) (DependencyKind, error) {
	if b > uint8(DependencyPkgConfig32) {
		return 0, fmt.Errorf("types: unknown dependency kind %d", b)
	}
	return DependencyKind(b), nil
}

// Provider is a (kind, name) pair a package depends on, conflicts with, or
// advertises that it satisfies.
type Provider struct {
	Kind DependencyKind
	Name string
}

// String renders "kind(name)"; a PackageName provider renders as
// "name(<name>)".
func (p Provider) String() string {
	if p.Kind == DependencyPackageName {
		return fmt.Sprintf("name(%s)", p.Name)
	}
	return fmt.Sprintf("%s(%s)", p.Kind, p.Name)
}

// Meta is the full metadata record for one package, as stored in the meta DB
// and carried inside a stone's Meta payload.
type Meta struct {
	ID            PackageID
	Name          string
	VersionID     string
	SourceRelease uint64
	BuildRelease  uint64
	Architecture  string
	Summary       string
	Description   string
	SourceID      string
	Homepage      string
	Licenses      []string
	Dependencies  []Provider
	Providers     []Provider
	Conflicts     []Provider
	URI           string
	Hash          string
	DownloadSize  uint64
	HasHash       bool
	HasURI        bool
	HasDownload   bool
}

// ProvidesSelf reports whether the providers set already contains this
// package's own name, the invariant every ingestion pass must restore.
func (m *Meta) ProvidesSelf() bool {
	for _, p := range m.Providers {
		if p.Kind == DependencyPackageName && p.Name == m.Name {
			return true
		}
	}
	return false
}

// EnsureSelfProvider rebuilds the provider-closure invariant: PackageName(self)
// is always present, per spec.md §3 "Provider closure".
func (m *Meta) EnsureSelfProvider() {
	if !m.ProvidesSelf() {
		m.Providers = append(m.Providers, Provider{Kind: DependencyPackageName, Name: m.Name})
	}
}

// EntryKind discriminates the on-disk object a Layout record describes.
type EntryKind uint8

const (
	EntryRegular EntryKind = iota
	EntrySymlink
	EntryDirectory
	EntryCharacterDevice
	EntryBlockDevice
	EntryFifo
	EntrySocket
)

func (k EntryKind) String() string {
	switch k {
	case EntryRegular:
		return "regular"
	case EntrySymlink:
		return "symlink"
	case EntryDirectory:
		return "directory"
	case EntryCharacterDevice:
		return "character-device"
	case EntryBlockDevice:
		return "block-device"
	case EntryFifo:
		return "fifo"
	case EntrySocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Hash128 is the 128-bit xxh3 digest of a regular file's plain bytes,
// represented as raw bytes in wire order.
type Hash128 [16]byte

// EmptyFileHash is the well-known digest of a zero-length file
// (0x99aa06d3014798d86001c324468d497f); the blitter must not hardlink
// duplicate occurrences of it and must instead create a fresh empty file.
var EmptyFileHash = Hash128{
	0x99, 0xaa, 0x06, 0xd3, 0x01, 0x47, 0x98, 0xd8,
	0x60, 0x01, 0xc3, 0x24, 0x46, 0x8d, 0x49, 0x7f,
}

func (h Hash128) String() string {
	return fmt.Sprintf("%x", [16]byte(h))
}

// IsZero reports whether h is the empty-file well-known hash.
func (h Hash128) IsZero() bool {
	return h == EmptyFileHash
}

// Entry is the per-inode payload of a Layout record. Exactly one of the
// typed fields is meaningful, selected by Kind — a tagged union rather than
// an interface hierarchy, per spec.md §9.
type Entry struct {
	Kind EntryKind

	// Regular
	Hash Hash128

	// Symlink
	Source string

	// Target path, without the /usr prefix (re-added at blit time).
	Target string
}

// Layout is a single per-inode record: ownership/mode/tag plus an Entry.
type Layout struct {
	PackageID PackageID
	UID       uint32
	GID       uint32
	Mode      uint32
	Tag       uint32
	Entry     Entry
}

// Selection is one package's membership in a State: explicit (user asked
// for it) or pulled in as a dependency, with an optional free-form reason.
type Selection struct {
	PackageID PackageID
	Explicit  bool
	Reason    string
}

// StateKind enumerates the (currently singleton) state-creation reasons.
type StateKind string

const (
	StateKindTransaction StateKind = "transaction"
)

// StateID is the monotonically increasing identifier of a State.
type StateID uint64

// State is an immutable snapshot of installed selections.
type State struct {
	ID          StateID
	Created     time.Time
	Kind        StateKind
	Summary     string
	Description string
	Selections  []Selection
}
