package stone

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PayloadKind discriminates the five payload shapes a stone can carry.
type PayloadKind uint8

const (
	PayloadMeta PayloadKind = iota
	PayloadContent
	PayloadLayout
	PayloadIndex
	PayloadAttributes
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadMeta:
		return "meta"
	case PayloadContent:
		return "content"
	case PayloadLayout:
		return "layout"
	case PayloadIndex:
		return "index"
	case PayloadAttributes:
		return "attributes"
	default:
		return fmt.Sprintf("payload(%d)", uint8(k))
	}
}

// Compression discriminates the compressor applied to the stored payload
// bytes.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// PayloadHeaderSize is the fixed on-disk size of a payload header in bytes:
// 8 (stored_size) + 8 (plain_size) + 8 (checksum) + 4 (num_records) +
// 2 (version) + 1 (kind) + 1 (compression) = 32.
const PayloadHeaderSize = 32

// PayloadHeader precedes every payload's record stream.
type PayloadHeader struct {
	StoredSize  uint64
	PlainSize   uint64
	Checksum    uint64
	NumRecords  uint32
	PayloadVer  uint16
	Kind        PayloadKind
	Compression Compression
}

// DecodePayloadHeader reads one 32-byte payload header.
func DecodePayloadHeader(r io.Reader) (PayloadHeader, error) {
	var buf [PayloadHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return PayloadHeader{}, err
	}

	h := PayloadHeader{
		StoredSize: binary.LittleEndian.Uint64(buf[0:8]),
		PlainSize:  binary.LittleEndian.Uint64(buf[8:16]),
		// Checksum is the one big-endian field on the wire (spec.md §6).
		Checksum:   binary.BigEndian.Uint64(buf[16:24]),
		NumRecords: binary.LittleEndian.Uint32(buf[24:28]),
		PayloadVer: binary.LittleEndian.Uint16(buf[28:30]),
		Kind:       PayloadKind(buf[30]),
	}
	compression := buf[31]
	if compression > uint8(CompressionZstd) {
		return PayloadHeader{}, fmt.Errorf("stone: unknown compression %d", compression)
	}
	h.Compression = Compression(compression)

	if h.Kind > PayloadAttributes {
		return PayloadHeader{}, fmt.Errorf("stone: unknown payload kind %d", h.Kind)
	}

	return h, nil
}

// EncodePayloadHeader writes one 32-byte payload header.
func EncodePayloadHeader(w io.Writer, h PayloadHeader) error {
	var buf [PayloadHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.StoredSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.PlainSize)
	binary.BigEndian.PutUint64(buf[16:24], h.Checksum)
	binary.LittleEndian.PutUint32(buf[24:28], h.NumRecords)
	binary.LittleEndian.PutUint16(buf[28:30], h.PayloadVer)
	buf[30] = uint8(h.Kind)
	buf[31] = uint8(h.Compression)
	_, err := w.Write(buf[:])
	return err
}

// ErrPayloadChecksum is returned when a payload's checksum does not match
// the xxh3-64 of its compressed bytes.
type ErrPayloadChecksum struct {
	Got, Expected uint64
}

func (e ErrPayloadChecksum) Error() string {
	return fmt.Sprintf("stone: payload checksum mismatch: got %016x, expected %016x", e.Got, e.Expected)
}
