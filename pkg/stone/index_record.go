package stone

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/moss/pkg/types"
)

// IndexRecord describes one file's byte range inside the content payload's
// concatenated blob, keyed by its content digest.
type IndexRecord struct {
	Start  uint64
	End    uint64
	Digest types.Hash128
}

// indexRecordSize is the fixed on-wire size of an Index record: 8 (start) +
// 8 (end) + 16 (digest) = 32 bytes. Index records carry no variable-length
// tail, unlike Meta and Layout.
const indexRecordSize = 32

// DecodeIndexRecord reads one fixed-size Index record.
func DecodeIndexRecord(r io.Reader) (IndexRecord, error) {
	var buf [indexRecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return IndexRecord{}, err
	}
	rec := IndexRecord{
		Start: binary.LittleEndian.Uint64(buf[0:8]),
		End:   binary.LittleEndian.Uint64(buf[8:16]),
	}
	copy(rec.Digest[:], buf[16:32])
	return rec, nil
}

// EncodeIndexRecord writes one fixed-size Index record.
func EncodeIndexRecord(w io.Writer, rec IndexRecord) error {
	var buf [indexRecordSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], rec.Start)
	binary.LittleEndian.PutUint64(buf[8:16], rec.End)
	copy(buf[16:32], rec.Digest[:])
	_, err := w.Write(buf[:])
	return err
}

// AttributeRecord carries an opaque key/value string pair, used for
// repository-level or extension metadata that doesn't warrant a Meta tag.
type AttributeRecord struct {
	Key   string
	Value string
}

// DecodeAttributeRecord reads one Attribute record: two strings, each
// prefixed with its little-endian u32 length and carrying no terminator.
func DecodeAttributeRecord(r io.Reader) (AttributeRecord, error) {
	readString := func() (string, error) {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return "", err
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	key, err := readString()
	if err != nil {
		return AttributeRecord{}, err
	}
	value, err := readString()
	if err != nil {
		return AttributeRecord{}, err
	}
	return AttributeRecord{Key: key, Value: value}, nil
}

// EncodeAttributeRecord writes one Attribute record.
func EncodeAttributeRecord(w io.Writer, rec AttributeRecord) error {
	writeString := func(s string) error {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := w.Write([]byte(s))
		return err
	}
	if err := writeString(rec.Key); err != nil {
		return err
	}
	return writeString(rec.Value)
}
