// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "bytes"

// Fixed layout offsets and sizes for FileHeader, per the EVTX binary
// format: 4096-byte header, CRC-32 covering [0, fileHeaderCRCRegion).
const (
	FileHeaderSize       = 0x1000
	fileHeaderCRCRegion  = 0x78
	fileHeaderFlagsOff   = 0x78
	fileHeaderCRCOff     = 0x7C
	fileHeaderMagicOff   = 0x00
	fileHeaderMagicLen   = 8
	chunkSize            = 0x10000
	expectedMajorVersion = 3
)

// FileHeaderMagic is the 8-byte magic every valid EVTX file starts with.
var FileHeaderMagic = [fileHeaderMagicLen]byte{'E', 'l', 'f', 'F', 'i', 'l', 'e', 0}

// FileHeaderFlag bits.
const (
	FileFlagDirty uint32 = 1 << 0
	FileFlagFull  uint32 = 1 << 1
)

// FileHeader is the fixed 4096-byte header at the start of every EVTX
// file.
type FileHeader struct {
	Magic            [8]byte `json:"-"`
	OldestChunk      uint64  `json:"oldest_chunk"`
	CurrentChunkNum  uint64  `json:"current_chunk_number"`
	NextRecordNumber uint64  `json:"next_record_number"`
	HeaderSize       uint32  `json:"header_size"`
	MinorVersion     uint16  `json:"minor_version"`
	MajorVersion     uint16  `json:"major_version"`
	HeaderChunkSize  uint32  `json:"header_chunk_size"`
	ChunkCount       uint16  `json:"chunk_count"`
	Flags            uint32  `json:"flags"`
	Checksum         uint32  `json:"checksum"`
}

// IsDirty reports whether the dirty flag bit is set.
func (h *FileHeader) IsDirty() bool { return h.Flags&FileFlagDirty != 0 }

// IsFull reports whether the full flag bit is set.
func (h *FileHeader) IsFull() bool { return h.Flags&FileFlagFull != 0 }

// parseFileHeader reads and verifies the file header at the start of
// slab. It does not validate chunk-level data.
func parseFileHeader(slab []byte) (*FileHeader, error) {
	if len(slab) < FileHeaderSize {
		return nil, ErrInvalidHeader
	}
	c := NewCursor(slab)

	h := &FileHeader{}
	copy(h.Magic[:], slab[fileHeaderMagicOff:fileHeaderMagicOff+fileHeaderMagicLen])
	c.Seek(8)

	var err error
	if h.OldestChunk, err = c.U64LE(); err != nil {
		return nil, err
	}
	if h.CurrentChunkNum, err = c.U64LE(); err != nil {
		return nil, err
	}
	if h.NextRecordNumber, err = c.U64LE(); err != nil {
		return nil, err
	}
	if h.HeaderSize, err = c.U32LE(); err != nil {
		return nil, err
	}
	if h.MinorVersion, err = c.U16LE(); err != nil {
		return nil, err
	}
	if h.MajorVersion, err = c.U16LE(); err != nil {
		return nil, err
	}
	if h.HeaderChunkSize, err = c.U32LE(); err != nil {
		return nil, err
	}
	if h.ChunkCount, err = c.U16LE(); err != nil {
		return nil, err
	}
	if h.Flags, err = c.U32LEAt(fileHeaderFlagsOff); err != nil {
		return nil, err
	}
	if h.Checksum, err = c.U32LEAt(fileHeaderCRCOff); err != nil {
		return nil, err
	}

	if err := h.verify(slab); err != nil {
		return nil, err
	}
	return h, nil
}

// verify checks magic, version, header-chunk-size, and checksum per
// the invariants in the base spec's §3.
func (h *FileHeader) verify(slab []byte) error {
	if !bytes.Equal(h.Magic[:], FileHeaderMagic[:]) {
		return ErrInvalidHeader
	}
	if h.MajorVersion != expectedMajorVersion {
		return ErrInvalidHeader
	}
	if h.MinorVersion != 1 && h.MinorVersion != 2 {
		return ErrInvalidHeader
	}
	if h.HeaderChunkSize != FileHeaderSize {
		return ErrInvalidHeader
	}
	want := CRC32(slab[0:fileHeaderCRCRegion])
	if want != h.Checksum {
		return ErrInvalidHeader
	}
	return nil
}

// chunkOffsets returns the byte offset of every chunk this header
// claims to own. When includeInactive is false, iteration stops at
// ChunkCount; otherwise it continues while the next chunk is still
// fully within slabLen.
func (h *FileHeader) chunkOffsets(slabLen int, includeInactive bool) []uint32 {
	var offsets []uint32
	for i := 0; ; i++ {
		if !includeInactive && uint16(i) >= h.ChunkCount {
			break
		}
		off := uint32(FileHeaderSize + i*chunkSize)
		if uint64(off)+chunkSize > uint64(slabLen) {
			break
		}
		offsets = append(offsets, off)
	}
	return offsets
}
