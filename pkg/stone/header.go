// Package stone implements the binary package container format: a typed,
// framed, optionally-compressed archive with a content payload addressable
// by hash (spec.md §4.A).
package stone

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic is the 4-byte file-header magic, "\0mos".
var Magic = [4]byte{0x00, 'm', 'o', 's'}

// Version is the header version tag. Only V1 exists.
type Version uint8

const (
	VersionV1 Version = 1
)

// FileType discriminates what a stone file is used for.
type FileType uint8

const (
	FileTypeBinary FileType = iota + 1
	FileTypeDelta
	FileTypeRepository
	FileTypeBuildManifest
)

// HeaderSize is the fixed on-disk size of the file header in bytes.
const HeaderSize = 32

// Header is the fixed-size file header every stone begins with.
type Header struct {
	Version     Version
	NumPayloads uint16
	FileType    FileType
}

// ErrBadMagic is returned when the leading 4 bytes don't match Magic.
var ErrBadMagic = fmt.Errorf("stone: bad magic")

// ErrUnsupportedVersion is returned for a version byte stone doesn't know.
type ErrUnsupportedVersion struct{ Got uint8 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("stone: unsupported version %d", e.Got)
}

// DecodeHeader reads and validates the 32-byte file header, failing fast on
// a magic or version mismatch per spec.md §4.A.
func DecodeHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("stone: read header: %w", err)
	}

	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return Header{}, ErrBadMagic
	}

	version := buf[4]
	if version != uint8(VersionV1) {
		return Header{}, ErrUnsupportedVersion{Got: version}
	}

	numPayloads := binary.LittleEndian.Uint16(buf[5:7])
	fileType := FileType(buf[7])
	if fileType < FileTypeBinary || fileType > FileTypeBuildManifest {
		return Header{}, fmt.Errorf("stone: unknown file type %d", fileType)
	}

	return Header{Version: VersionV1, NumPayloads: numPayloads, FileType: fileType}, nil
}

// EncodeHeader writes the 32-byte file header.
func EncodeHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	buf[0], buf[1], buf[2], buf[3] = Magic[0], Magic[1], Magic[2], Magic[3]
	buf[4] = uint8(h.Version)
	binary.LittleEndian.PutUint16(buf[5:7], h.NumPayloads)
	buf[7] = uint8(h.FileType)
	// remaining 24 bytes are reserved padding, left zeroed.
	_, err := w.Write(buf[:])
	return err
}
