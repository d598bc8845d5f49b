package stone

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cuemby/moss/pkg/digest"
	"github.com/klauspost/compress/zstd"
)

// Payload is one decoded, decompressed payload section of a stone file.
type Payload struct {
	Header PayloadHeader
	Body   []byte // decompressed record bytes, for all kinds except Content
}

// Reader streams the payloads of a stone file, validating the file header
// up front and each payload's xxh3-64 checksum as it is read.
type Reader struct {
	r      io.Reader
	Header Header

	contentOffset int64 // running byte offset into the logical content blob
}

// NewReader decodes the file header and returns a Reader positioned at the
// first payload.
func NewReader(r io.Reader) (*Reader, error) {
	h, err := DecodeHeader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, Header: h}, nil
}

// Next decodes the next payload, including validating its checksum. It
// returns io.EOF once NumPayloads payloads have been consumed by the caller;
// callers should loop calling Next exactly Header.NumPayloads times.
func (rd *Reader) Next() (Payload, error) {
	ph, err := DecodePayloadHeader(rd.r)
	if err != nil {
		return Payload{}, err
	}

	stored := make([]byte, ph.StoredSize)
	if _, err := io.ReadFull(rd.r, stored); err != nil {
		return Payload{}, fmt.Errorf("stone: read payload body: %w", err)
	}

	sum := digest.Sum128Bytes(stored)
	got := sumLow64(sum)
	if got != ph.Checksum {
		return Payload{}, ErrPayloadChecksum{Got: got, Expected: ph.Checksum}
	}

	var plain []byte
	switch ph.Compression {
	case CompressionNone:
		plain = stored
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(stored))
		if err != nil {
			return Payload{}, fmt.Errorf("stone: zstd reader: %w", err)
		}
		plain, err = io.ReadAll(dec)
		dec.Close()
		if err != nil {
			return Payload{}, fmt.Errorf("stone: zstd decompress: %w", err)
		}
	default:
		return Payload{}, fmt.Errorf("stone: unknown compression %d", ph.Compression)
	}

	if ph.Kind == PayloadContent {
		rd.contentOffset += int64(len(plain))
	}

	return Payload{Header: ph, Body: plain}, nil
}

func sumLow64(h [16]byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(h[15-i]) << (8 * i)
	}
	return v
}

// DecodeMetaPayload decodes every Meta record out of a Meta payload's body.
func DecodeMetaPayload(p Payload) ([]MetaRecord, error) {
	if p.Header.Kind != PayloadMeta {
		return nil, fmt.Errorf("stone: not a meta payload (kind=%s)", p.Header.Kind)
	}
	r := bytes.NewReader(p.Body)
	recs := make([]MetaRecord, 0, p.Header.NumRecords)
	for i := uint32(0); i < p.Header.NumRecords; i++ {
		rec, err := DecodeMetaRecord(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DecodeLayoutPayload decodes every Layout record out of a Layout payload's
// body.
func DecodeLayoutPayload(p Payload) ([]LayoutRecord, error) {
	if p.Header.Kind != PayloadLayout {
		return nil, fmt.Errorf("stone: not a layout payload (kind=%s)", p.Header.Kind)
	}
	r := bytes.NewReader(p.Body)
	recs := make([]LayoutRecord, 0, p.Header.NumRecords)
	for i := uint32(0); i < p.Header.NumRecords; i++ {
		rec, err := DecodeLayoutRecord(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DecodeIndexPayload decodes every Index record out of an Index payload's
// body.
func DecodeIndexPayload(p Payload) ([]IndexRecord, error) {
	if p.Header.Kind != PayloadIndex {
		return nil, fmt.Errorf("stone: not an index payload (kind=%s)", p.Header.Kind)
	}
	r := bytes.NewReader(p.Body)
	recs := make([]IndexRecord, 0, p.Header.NumRecords)
	for i := uint32(0); i < p.Header.NumRecords; i++ {
		rec, err := DecodeIndexRecord(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// DecodeAttributePayload decodes every Attribute record out of an Attribute
// payload's body.
func DecodeAttributePayload(p Payload) ([]AttributeRecord, error) {
	if p.Header.Kind != PayloadAttributes {
		return nil, fmt.Errorf("stone: not an attributes payload (kind=%s)", p.Header.Kind)
	}
	r := bytes.NewReader(p.Body)
	recs := make([]AttributeRecord, 0, p.Header.NumRecords)
	for i := uint32(0); i < p.Header.NumRecords; i++ {
		rec, err := DecodeAttributeRecord(r)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// UnpackContent extracts the file identified by idx from a decoded content
// payload's body, validating its digest against idx.Digest.
func UnpackContent(contentBody []byte, idx IndexRecord) ([]byte, error) {
	if idx.End > uint64(len(contentBody)) || idx.Start > idx.End {
		return nil, fmt.Errorf("stone: index range [%d,%d) out of bounds (len=%d)", idx.Start, idx.End, len(contentBody))
	}
	data := contentBody[idx.Start:idx.End]
	got := digest.Sum128Bytes(data)
	if got != idx.Digest {
		return nil, fmt.Errorf("stone: content digest mismatch for range [%d,%d): got %x, expected %x", idx.Start, idx.End, got, idx.Digest)
	}
	return data, nil
}
