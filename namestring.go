// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

// NameString is an interned, chunk-relative element/attribute name.
// It is owned by the ChunkHeader it was parsed from, never by an
// individual record; identity is its chunk-relative offset.
type NameString struct {
	Offset     uint32 `json:"offset"`
	NextOffset uint32 `json:"next_offset"`
	Hash       uint16 `json:"hash"`
	Length     uint16 `json:"length"`
	Value      string `json:"value"`
}

// nameStringNodeLength returns the total on-disk length of a
// NameString entry with the given UTF-16 code-unit length, per the
// base spec's formula: next_offset(4) + hash(2) + length(2) +
// payload(2*length) + terminator(2).
func nameStringNodeLength(codeUnits uint16) uint32 {
	return 10 + 2*uint32(codeUnits)
}

// parseNameString seeks cur to the given chunk-relative offset and
// reads the NameString entry there, advancing cur past the entry.
func parseNameString(cur *Cursor, offset uint32) (*NameString, error) {
	cur.Seek(offset)
	next, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	hash, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	length, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	value, err := cur.ReadUTF16Exact(uint32(length) * 2)
	if err != nil {
		return nil, err
	}
	// Consume the U+0000 terminator.
	if _, err := cur.U16LE(); err != nil {
		return nil, err
	}
	return &NameString{
		Offset:     offset,
		NextOffset: next,
		Hash:       hash,
		Length:     length,
		Value:      value,
	}, nil
}
