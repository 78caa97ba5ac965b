// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"encoding/binary"
	"hash/crc32"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// utf16leDecoderPool hands out per-use UTF-16LE decoders. A
// transform.Transformer mutates its own state across Reset/Transform
// calls, so one shared *encoding.Decoder is not safe for concurrent
// Bytes calls; cmd/evtxdump's per-file worker pool (SPEC_FULL §5)
// parses multiple files through cursors concurrently, so each decode
// borrows its own instance instead.
var utf16leDecoderPool = sync.Pool{
	New: func() any {
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	},
}

func transformUTF16LE(raw []byte) ([]byte, error) {
	d := utf16leDecoderPool.Get().(*encoding.Decoder)
	defer utf16leDecoderPool.Put(d)
	return d.Bytes(raw)
}

// Cursor is a position-tracked, bounds-checked view over an immutable
// byte slab. The same slab may be viewed by many independent cursors;
// Clone produces one cheaply.
type Cursor struct {
	slab []byte
	pos  uint32
}

// NewCursor returns a Cursor positioned at the start of slab.
func NewCursor(slab []byte) *Cursor {
	return &Cursor{slab: slab}
}

// NewCursorAt returns a Cursor over slab positioned at pos.
func NewCursorAt(slab []byte, pos uint32) *Cursor {
	return &Cursor{slab: slab, pos: pos}
}

// Clone returns an independent cursor over the same backing slab at
// the same position. Callers MUST clone before performing a lookup
// that should not disturb an in-progress sequential parse.
// ChunkHeader.lookupString and parseTemplateDefinition read through
// fresh cursors over the chunk bytes instead.
func (c *Cursor) Clone() *Cursor {
	return &Cursor{slab: c.slab, pos: c.pos}
}

// Len returns the length of the backing slab.
func (c *Cursor) Len() int { return len(c.slab) }

// Tell returns the current position.
func (c *Cursor) Tell() uint32 { return c.pos }

// Seek repositions the cursor. It does not validate the new position
// against the slab length; the next read will fail with
// ErrOutOfBounds if it is invalid.
func (c *Cursor) Seek(pos uint32) { c.pos = pos }

// Advance moves the cursor forward by n bytes.
func (c *Cursor) Advance(n uint32) { c.pos += n }

func (c *Cursor) require(offset uint32, n uint32) error {
	if uint64(offset)+uint64(n) > uint64(len(c.slab)) {
		return ErrOutOfBounds
	}
	return nil
}

// --- random access primitives ---

// U8At reads a byte at offset without moving the cursor.
func (c *Cursor) U8At(offset uint32) (uint8, error) {
	if err := c.require(offset, 1); err != nil {
		return 0, err
	}
	return c.slab[offset], nil
}

// U16LEAt reads a little-endian uint16 at offset.
func (c *Cursor) U16LEAt(offset uint32) (uint16, error) {
	if err := c.require(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(c.slab[offset : offset+2]), nil
}

// U32LEAt reads a little-endian uint32 at offset.
func (c *Cursor) U32LEAt(offset uint32) (uint32, error) {
	if err := c.require(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(c.slab[offset : offset+4]), nil
}

// U32BEAt reads a big-endian uint32 at offset.
func (c *Cursor) U32BEAt(offset uint32) (uint32, error) {
	if err := c.require(offset, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(c.slab[offset : offset+4]), nil
}

// U64LEAt reads a little-endian uint64 at offset.
func (c *Cursor) U64LEAt(offset uint32) (uint64, error) {
	if err := c.require(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(c.slab[offset : offset+8]), nil
}

// BytesAt returns a (non-copied) view of n bytes at offset.
func (c *Cursor) BytesAt(offset, n uint32) ([]byte, error) {
	if err := c.require(offset, n); err != nil {
		return nil, err
	}
	return c.slab[offset : offset+n], nil
}

// --- sequential primitives ---

// U8 reads a byte and advances the cursor.
func (c *Cursor) U8() (uint8, error) {
	v, err := c.U8At(c.pos)
	if err != nil {
		return 0, err
	}
	c.pos++
	return v, nil
}

// U16LE reads a little-endian uint16 and advances the cursor.
func (c *Cursor) U16LE() (uint16, error) {
	v, err := c.U16LEAt(c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 2
	return v, nil
}

// U32LE reads a little-endian uint32 and advances the cursor.
func (c *Cursor) U32LE() (uint32, error) {
	v, err := c.U32LEAt(c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 4
	return v, nil
}

// U64LE reads a little-endian uint64 and advances the cursor.
func (c *Cursor) U64LE() (uint64, error) {
	v, err := c.U64LEAt(c.pos)
	if err != nil {
		return 0, err
	}
	c.pos += 8
	return v, nil
}

// Bytes reads n raw bytes and advances the cursor.
func (c *Cursor) Bytes(n uint32) ([]byte, error) {
	v, err := c.BytesAt(c.pos, n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return v, nil
}

// --- UTF-16LE helpers ---

// ReadUTF16Prefixed reads a u16 code-unit count followed by that many
// UTF-16LE code units, with no trailing NUL consumed.
func (c *Cursor) ReadUTF16Prefixed() (string, error) {
	length, err := c.U16LE()
	if err != nil {
		return "", err
	}
	return c.ReadUTF16Exact(uint32(length) * 2)
}

// ReadUTF16Exact decodes exactly nBytes as UTF-16LE and strips any
// trailing NUL code units, advancing the cursor by nBytes.
func (c *Cursor) ReadUTF16Exact(nBytes uint32) (string, error) {
	raw, err := c.Bytes(nBytes)
	if err != nil {
		return "", err
	}
	return decodeUTF16LE(raw)
}

// decodeUTF16LE decodes a raw UTF-16LE byte slice (trimmed to an even
// length) using a real UTF-16 transcoder so surrogate pairs outside
// the BMP round-trip correctly, then strips trailing NULs.
func decodeUTF16LE(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	out, err := transformUTF16LE(raw)
	if err != nil {
		return "", err
	}
	s := string(out)
	return strings.TrimRight(s, "\x00"), nil
}

// CRC32 computes the standard IEEE CRC-32 of slice, as an unsigned
// 32-bit value.
func CRC32(slice []byte) uint32 {
	return crc32.ChecksumIEEE(slice)
}
