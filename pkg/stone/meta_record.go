package stone

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/cuemby/moss/pkg/types"
)

// MetaTag is the closed 20-valued enumeration identifying metadata fields,
// exactly as listed in spec.md's GLOSSARY.
type MetaTag uint16

const (
	TagName MetaTag = iota + 1
	TagArchitecture
	TagVersion
	TagSummary
	TagDescription
	TagHomepage
	TagSourceID
	TagDepends
	TagProvides
	TagConflicts
	TagRelease
	TagLicense
	TagBuildRelease
	TagPackageURI
	TagPackageHash
	TagPackageSize
	TagBuildDepends
	TagSourceURI
	TagSourcePath
	TagSourceRef
)

func (t MetaTag) valid() bool { return t >= TagName && t <= TagSourceRef }

// PrimitiveKind discriminates the eleven wire-level value shapes a Meta
// record can hold.
type PrimitiveKind uint8

const (
	PrimitiveInt8 PrimitiveKind = iota + 1
	PrimitiveUint8
	PrimitiveInt16
	PrimitiveUint16
	PrimitiveInt32
	PrimitiveUint32
	PrimitiveInt64
	PrimitiveUint64
	PrimitiveString
	PrimitiveDependency
	PrimitiveProvider
)

// MetaPrimitive is a tagged union over the eleven primitive wire shapes
// (spec.md §9: "sum type with explicit discriminants", not an interface
// hierarchy).
type MetaPrimitive struct {
	Kind PrimitiveKind

	Int     int64  // Int8/Int16/Int32/Int64 normalised to int64
	Uint    uint64 // Uint8/Uint16/Uint32/Uint64 normalised to uint64
	Str     string // String, or the name half of Dependency/Provider
	DepKind types.DependencyKind
}

func (p MetaPrimitive) wireSize() int {
	switch p.Kind {
	case PrimitiveInt8, PrimitiveUint8:
		return 1
	case PrimitiveInt16, PrimitiveUint16:
		return 2
	case PrimitiveInt32, PrimitiveUint32:
		return 4
	case PrimitiveInt64, PrimitiveUint64:
		return 8
	case PrimitiveString:
		return len(p.Str) + 1
	case PrimitiveDependency, PrimitiveProvider:
		return len(p.Str) + 2
	default:
		return 0
	}
}

// MetaRecord is one (tag, primitive) pair inside a Meta payload.
type MetaRecord struct {
	Tag       MetaTag
	Primitive MetaPrimitive
}

func decodeDependencyKind(b byte) (types.DependencyKind, error) {
	return types.ParseDependencyKind(b)
}

// DecodeMetaRecord reads one Meta record.
func DecodeMetaRecord(r io.Reader) (MetaRecord, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return MetaRecord{}, err
	}
	length := binary.LittleEndian.Uint32(hdr[0:4])
	tag := MetaTag(binary.LittleEndian.Uint16(hdr[4:6]))
	if !tag.valid() {
		return MetaRecord{}, fmt.Errorf("stone: unknown meta tag %d", tag)
	}
	primKind := PrimitiveKind(hdr[6])
	// hdr[7] is the padding byte.

	sanitize := func(s string) string { return strings.TrimRight(s, "\x00") }

	readString := func(n uint32) (string, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return sanitize(string(buf)), nil
	}

	var prim MetaPrimitive
	switch primKind {
	case PrimitiveInt8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Int: int64(int8(b[0]))}
	case PrimitiveUint8:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Uint: uint64(b[0])}
	case PrimitiveInt16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Int: int64(int16(binary.LittleEndian.Uint16(b[:])))}
	case PrimitiveUint16:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Uint: uint64(binary.LittleEndian.Uint16(b[:]))}
	case PrimitiveInt32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Int: int64(int32(binary.LittleEndian.Uint32(b[:])))}
	case PrimitiveUint32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Uint: uint64(binary.LittleEndian.Uint32(b[:]))}
	case PrimitiveInt64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Int: int64(binary.LittleEndian.Uint64(b[:]))}
	case PrimitiveUint64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Uint: binary.LittleEndian.Uint64(b[:])}
	case PrimitiveString:
		s, err := readString(length)
		if err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Str: s}
	case PrimitiveDependency, PrimitiveProvider:
		var kb [1]byte
		if _, err := io.ReadFull(r, kb[:]); err != nil {
			return MetaRecord{}, err
		}
		dk, err := decodeDependencyKind(kb[0])
		if err != nil {
			return MetaRecord{}, err
		}
		s, err := readString(length - 1)
		if err != nil {
			return MetaRecord{}, err
		}
		prim = MetaPrimitive{Kind: primKind, Str: s, DepKind: dk}
	default:
		return MetaRecord{}, fmt.Errorf("stone: unknown meta primitive kind %d", primKind)
	}

	return MetaRecord{Tag: tag, Primitive: prim}, nil
}

// EncodeMetaRecord writes one Meta record.
func EncodeMetaRecord(w io.Writer, rec MetaRecord) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(rec.Primitive.wireSize()))
	binary.LittleEndian.PutUint16(hdr[4:6], uint16(rec.Tag))
	hdr[6] = uint8(rec.Primitive.Kind)
	hdr[7] = 0
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	p := rec.Primitive
	switch p.Kind {
	case PrimitiveInt8:
		_, err := w.Write([]byte{byte(int8(p.Int))})
		return err
	case PrimitiveUint8:
		_, err := w.Write([]byte{byte(p.Uint)})
		return err
	case PrimitiveInt16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(int16(p.Int)))
		_, err := w.Write(b[:])
		return err
	case PrimitiveUint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(p.Uint))
		_, err := w.Write(b[:])
		return err
	case PrimitiveInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(p.Int)))
		_, err := w.Write(b[:])
		return err
	case PrimitiveUint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(p.Uint))
		_, err := w.Write(b[:])
		return err
	case PrimitiveInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(p.Int))
		_, err := w.Write(b[:])
		return err
	case PrimitiveUint64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], p.Uint)
		_, err := w.Write(b[:])
		return err
	case PrimitiveString:
		if _, err := w.Write([]byte(p.Str)); err != nil {
			return err
		}
		_, err := w.Write([]byte{0})
		return err
	case PrimitiveDependency, PrimitiveProvider:
		if _, err := w.Write([]byte{uint8(p.DepKind)}); err != nil {
			return err
		}
		if _, err := w.Write([]byte(p.Str)); err != nil {
			return err
		}
		_, err := w.Write([]byte{0})
		return err
	default:
		return fmt.Errorf("stone: cannot encode primitive kind %d", p.Kind)
	}
}

// RecordSize returns the total on-wire size of rec, including its 8-byte
// record header.
func RecordSize(rec MetaRecord) int {
	return 8 + rec.Primitive.wireSize()
}

// StringPrimitive builds a String-kind MetaPrimitive.
func StringPrimitive(s string) MetaPrimitive {
	return MetaPrimitive{Kind: PrimitiveString, Str: s}
}

// Uint64Primitive builds a Uint64-kind MetaPrimitive.
func Uint64Primitive(v uint64) MetaPrimitive {
	return MetaPrimitive{Kind: PrimitiveUint64, Uint: v}
}

// DependencyPrimitive builds a Dependency-kind MetaPrimitive.
func DependencyPrimitive(kind types.DependencyKind, name string) MetaPrimitive {
	return MetaPrimitive{Kind: PrimitiveDependency, DepKind: kind, Str: name}
}

// ProviderPrimitive builds a Provider-kind MetaPrimitive.
func ProviderPrimitive(kind types.DependencyKind, name string) MetaPrimitive {
	return MetaPrimitive{Kind: PrimitiveProvider, DepKind: kind, Str: name}
}
