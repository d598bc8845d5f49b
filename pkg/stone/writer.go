package stone

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/types"
	"github.com/klauspost/compress/zstd"
)

// PendingPayload is a non-content payload queued for the file, already
// encoded to its plain record bytes.
type PendingPayload struct {
	Kind        PayloadKind
	NumRecords  uint32
	Plain       []byte
	Compression Compression
}

// Writer assembles a stone file: a set of small, buffered, optionally
// compressed metadata payloads, plus one append-only content payload built
// from an on-disk scratch file so large package bodies never need to live
// in memory at once (spec.md §4.A "Writer pipeline").
type Writer struct {
	fileType FileType
	pending  []PendingPayload

	scratch     *os.File
	scratchPath string
	offset      uint64
	index       []IndexRecord
	payloadHash *digest.Hasher // rolling xxh3 over the content payload's plain bytes
}

// NewWriter creates a Writer that will stage its content payload in a
// scratch file created inside scratchDir.
func NewWriter(fileType FileType, scratchDir string) (*Writer, error) {
	f, err := os.CreateTemp(scratchDir, ".stone-content-*")
	if err != nil {
		return nil, fmt.Errorf("stone: create scratch file: %w", err)
	}
	return &Writer{
		fileType:    fileType,
		scratch:     f,
		scratchPath: f.Name(),
		payloadHash: digest.New(),
	}, nil
}

// Close removes the scratch file. Safe to call after Finalize or on an
// aborted write.
func (w *Writer) Close() error {
	if w.scratch == nil {
		return nil
	}
	path := w.scratchPath
	_ = w.scratch.Close()
	w.scratch = nil
	return os.Remove(path)
}

// AddMeta queues a Meta payload encoded from recs.
func (w *Writer) AddMeta(recs []MetaRecord) error {
	var buf bytes.Buffer
	for _, rec := range recs {
		if err := EncodeMetaRecord(&buf, rec); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, PendingPayload{
		Kind:        PayloadMeta,
		NumRecords:  uint32(len(recs)),
		Plain:       buf.Bytes(),
		Compression: CompressionNone,
	})
	return nil
}

// AddLayout queues a Layout payload encoded from recs.
func (w *Writer) AddLayout(recs []LayoutRecord) error {
	var buf bytes.Buffer
	for _, rec := range recs {
		if err := EncodeLayoutRecord(&buf, rec); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, PendingPayload{
		Kind:        PayloadLayout,
		NumRecords:  uint32(len(recs)),
		Plain:       buf.Bytes(),
		Compression: CompressionZstd,
	})
	return nil
}

// AddIndex queues an Index payload encoded from recs. Callers building a
// content-bearing stone must call this with w.Index() before Finalize so
// the index precedes the content payload in the file.
func (w *Writer) AddIndex(recs []IndexRecord) error {
	var buf bytes.Buffer
	for _, rec := range recs {
		if err := EncodeIndexRecord(&buf, rec); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, PendingPayload{
		Kind:        PayloadIndex,
		NumRecords:  uint32(len(recs)),
		Plain:       buf.Bytes(),
		Compression: CompressionNone,
	})
	return nil
}

// AddAttributes queues an Attribute payload encoded from recs.
func (w *Writer) AddAttributes(recs []AttributeRecord) error {
	var buf bytes.Buffer
	for _, rec := range recs {
		if err := EncodeAttributeRecord(&buf, rec); err != nil {
			return err
		}
	}
	w.pending = append(w.pending, PendingPayload{
		Kind:        PayloadAttributes,
		NumRecords:  uint32(len(recs)),
		Plain:       buf.Bytes(),
		Compression: CompressionNone,
	})
	return nil
}

// AppendFile streams one file's content into the content payload's scratch
// area, deduplicating nothing (callers are expected to dedup by digest
// before calling: see pkg/cache), and records its [start,end) Index entry.
func (w *Writer) AppendFile(content io.Reader) (types.Hash128, error) {
	h := digest.New()
	tee := io.TeeReader(content, h)

	n, err := io.Copy(io.MultiWriter(w.scratch, w.payloadHash), tee)
	if err != nil {
		return types.Hash128{}, fmt.Errorf("stone: append content: %w", err)
	}

	start := w.offset
	end := w.offset + uint64(n)
	w.offset = end

	sum := h.Sum128()
	w.index = append(w.index, IndexRecord{Start: start, End: end, Digest: sum})
	return sum, nil
}

// Index returns the Index records accumulated so far via AppendFile.
func (w *Writer) Index() []IndexRecord {
	return w.index
}

// Finalize writes the complete stone file to out: file header, then every
// queued non-content payload, then the content payload built from the
// scratch file.
func (w *Writer) Finalize(out io.Writer) error {
	numPayloads := len(w.pending)
	if w.offset > 0 {
		numPayloads++
	}

	if err := EncodeHeader(out, Header{
		Version:     VersionV1,
		NumPayloads: uint16(numPayloads),
		FileType:    w.fileType,
	}); err != nil {
		return err
	}

	for _, p := range w.pending {
		if err := writePayload(out, p); err != nil {
			return err
		}
	}

	if w.offset == 0 {
		return nil
	}

	if _, err := w.scratch.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("stone: seek scratch file: %w", err)
	}

	checksum := sumLow64(w.payloadHash.Sum128())
	if err := EncodePayloadHeader(out, PayloadHeader{
		StoredSize:  w.offset,
		PlainSize:   w.offset,
		Checksum:    checksum,
		NumRecords:  uint32(len(w.index)),
		Kind:        PayloadContent,
		Compression: CompressionNone,
	}); err != nil {
		return err
	}

	if _, err := io.Copy(out, w.scratch); err != nil {
		return fmt.Errorf("stone: copy scratch content: %w", err)
	}
	return nil
}

func writePayload(out io.Writer, p PendingPayload) error {
	stored := p.Plain
	if p.Compression == CompressionZstd {
		var buf bytes.Buffer
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return fmt.Errorf("stone: zstd writer: %w", err)
		}
		if _, err := enc.Write(p.Plain); err != nil {
			enc.Close()
			return fmt.Errorf("stone: zstd compress: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("stone: zstd close: %w", err)
		}
		stored = buf.Bytes()
	}

	checksum := sumLow64(digest.Sum128Bytes(stored))
	if err := EncodePayloadHeader(out, PayloadHeader{
		StoredSize:  uint64(len(stored)),
		PlainSize:   uint64(len(p.Plain)),
		Checksum:    checksum,
		NumRecords:  p.NumRecords,
		Kind:        p.Kind,
		Compression: p.Compression,
	}); err != nil {
		return err
	}
	_, err := out.Write(stored)
	return err
}
