package stone

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cuemby/moss/pkg/types"
)

// entryKindSize returns the on-wire payload size (after the fixed layout
// header, not counting the target path) of an entry of the given kind.
func entryKindSize(k types.EntryKind, sourceLen int) int {
	switch k {
	case types.EntryRegular:
		return 16
	case types.EntryDirectory:
		return 0
	case types.EntrySymlink:
		return 4 + sourceLen
	case types.EntryCharacterDevice, types.EntryBlockDevice, types.EntryFifo, types.EntrySocket:
		return 16
	default:
		return 0
	}
}

// LayoutRecord is one filesystem entry declaration inside a Layout payload.
type LayoutRecord struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	Tag    uint32
	Kind   types.EntryKind
	Hash   types.Hash128
	Source string // symlink source, or empty
	Target string // path, always present
}

// DecodeLayoutRecord reads one Layout record. Layout records are longer than
// Meta records and carry a fixed 21-byte prefix (uid/gid/mode/tag, target
// length, kind) followed by a kind-dependent body and the raw target path
// bytes (no terminator; the length comes from the prefix).
func DecodeLayoutRecord(r io.Reader) (LayoutRecord, error) {
	var hdr [21]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return LayoutRecord{}, err
	}

	rec := LayoutRecord{
		UID:  binary.LittleEndian.Uint32(hdr[0:4]),
		GID:  binary.LittleEndian.Uint32(hdr[4:8]),
		Mode: binary.LittleEndian.Uint32(hdr[8:12]),
		Tag:  binary.LittleEndian.Uint32(hdr[12:16]),
	}
	targetLen := binary.LittleEndian.Uint32(hdr[16:20])
	kind := types.EntryKind(hdr[20])

	switch kind {
	case types.EntryRegular, types.EntryDirectory:
		// no body
	case types.EntrySymlink:
		var srcLen [4]byte
		if _, err := io.ReadFull(r, srcLen[:]); err != nil {
			return LayoutRecord{}, err
		}
		n := binary.LittleEndian.Uint32(srcLen[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return LayoutRecord{}, err
		}
		rec.Source = string(buf)
	case types.EntryCharacterDevice, types.EntryBlockDevice, types.EntryFifo, types.EntrySocket:
		var hashBuf [16]byte
		if _, err := io.ReadFull(r, hashBuf[:]); err != nil {
			return LayoutRecord{}, err
		}
		copy(rec.Hash[:], hashBuf[:])
	default:
		return LayoutRecord{}, fmt.Errorf("stone: unknown entry kind %d", kind)
	}
	rec.Kind = kind

	if kind == types.EntryRegular {
		var hashBuf [16]byte
		if _, err := io.ReadFull(r, hashBuf[:]); err != nil {
			return LayoutRecord{}, err
		}
		copy(rec.Hash[:], hashBuf[:])
	}

	target := make([]byte, targetLen)
	if _, err := io.ReadFull(r, target); err != nil {
		return LayoutRecord{}, err
	}
	rec.Target = string(target)

	return rec, nil
}

// EncodeLayoutRecord writes one Layout record.
func EncodeLayoutRecord(w io.Writer, rec LayoutRecord) error {
	var hdr [21]byte
	binary.LittleEndian.PutUint32(hdr[0:4], rec.UID)
	binary.LittleEndian.PutUint32(hdr[4:8], rec.GID)
	binary.LittleEndian.PutUint32(hdr[8:12], rec.Mode)
	binary.LittleEndian.PutUint32(hdr[12:16], rec.Tag)
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(rec.Target)))
	hdr[20] = uint8(rec.Kind)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	switch rec.Kind {
	case types.EntryRegular:
		if _, err := w.Write(rec.Hash[:]); err != nil {
			return err
		}
	case types.EntryDirectory:
		// nothing further
	case types.EntrySymlink:
		var srcLen [4]byte
		binary.LittleEndian.PutUint32(srcLen[:], uint32(len(rec.Source)))
		if _, err := w.Write(srcLen[:]); err != nil {
			return err
		}
		if _, err := w.Write([]byte(rec.Source)); err != nil {
			return err
		}
	case types.EntryCharacterDevice, types.EntryBlockDevice, types.EntryFifo, types.EntrySocket:
		if _, err := w.Write(rec.Hash[:]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("stone: cannot encode entry kind %d", rec.Kind)
	}

	_, err := w.Write([]byte(rec.Target))
	return err
}
