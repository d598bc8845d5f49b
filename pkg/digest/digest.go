// Package digest provides the streaming 128-bit xxh3 hashing moss uses for
// asset identity: Index payload digests, layout Regular hashes, and
// asset-pool re-hashing during verify.
package digest

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/xxh3"
)

// Hasher is a 128-bit xxh3 digester; it has no Clone method, so its state
// cannot be duplicated mid-stream. Reset is cheap (it just
// reinitialises the underlying state), so the same Hasher can be reused
// across many files without reallocating.
type Hasher struct {
	h *xxh3.Hasher
}

// New creates a ready-to-use Hasher.
func New() *Hasher {
	return &Hasher{h: xxh3.New()}
}

// Write feeds bytes into the running digest.
func (d *Hasher) Write(p []byte) (int, error) {
	return d.h.Write(p)
}

// Reset reinitialises the hasher's internal state for reuse.
func (d *Hasher) Reset() {
	d.h.Reset()
}

// Sum128 finalises the digest without consuming the hasher; further writes
// continue to accumulate from the current state.
func (d *Hasher) Sum128() [16]byte {
	u := d.h.Sum128()
	return u.Bytes()
}

// Sum64 returns the low 64 bits of the 128-bit digest, used for the
// payload-level checksum (spec.md §4.A "Checksum contract").
func (d *Hasher) Sum64() uint64 {
	return d.h.Sum128().Lo
}

// Writer is a pass-through io.Writer that accumulates plain bytes into a
// Hasher while forwarding them to an underlying writer — used while
// building Index records during stone content writing.
type Writer struct {
	hasher *Hasher
	out    io.Writer
}

// NewWriter wraps out so that every write also feeds hasher.
func NewWriter(out io.Writer, hasher *Hasher) *Writer {
	return &Writer{hasher: hasher, out: out}
}

func (w *Writer) Write(p []byte) (int, error) {
	if _, err := w.hasher.Write(p); err != nil {
		return 0, err
	}
	return w.out.Write(p)
}

// CountingSink discards bytes but counts them and feeds a Hasher, used to
// re-hash an asset file on disk during verify without buffering it.
type CountingSink struct {
	hasher *Hasher
	n      int64
}

// NewCountingSink creates a sink that digests everything written to it.
func NewCountingSink() *CountingSink {
	return &CountingSink{hasher: New()}
}

func (s *CountingSink) Write(p []byte) (int, error) {
	n, err := s.hasher.Write(p)
	s.n += int64(n)
	return n, err
}

// Sum128 returns the digest of everything written so far.
func (s *CountingSink) Sum128() [16]byte {
	return s.hasher.Sum128()
}

// Count returns the number of bytes written so far.
func (s *CountingSink) Count() int64 {
	return s.n
}

// Sum128Bytes is a one-shot convenience digest for an in-memory buffer.
func Sum128Bytes(p []byte) [16]byte {
	return xxh3.Hash128(p).Bytes()
}

// FormatHash128 renders a 128-bit digest as lowercase hex, the form used
// for asset and download filenames on disk.
func FormatHash128(h [16]byte) string {
	return hex.EncodeToString(h[:])
}
