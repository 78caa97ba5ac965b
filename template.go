// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

const templateHeaderSize = 24

// TemplateDefinition is a parsed template header plus its raw BXML
// child bytes. It is cached per chunk, keyed by chunk-relative offset;
// many records typically share one definition.
type TemplateDefinition struct {
	Offset     uint32 `json:"offset"`
	NextOffset uint32 `json:"next_offset"`
	GUID       [16]byte `json:"-"`
	TemplateID uint32 `json:"template_id"`
	DataLength uint32 `json:"data_length"`
	Data       []byte `json:"-"`

	root     []Node
	rootErr  error
	rootDone bool
}

// parseTemplateDefinition reads a 24-byte template header followed by
// DataLength bytes of BXML children, at the given chunk-relative
// offset. The guid field overlaps the template id: template id is the
// little-endian uint32 formed by the guid's first four bytes.
func parseTemplateDefinition(chunk *ChunkHeader, offset uint32) (*TemplateDefinition, error) {
	cur := NewCursorAt(chunk.Data, offset)
	next, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	guidBytes, err := cur.Bytes(16)
	if err != nil {
		return nil, err
	}
	dataLength, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	data, err := cur.Bytes(dataLength)
	if err != nil {
		return nil, err
	}

	def := &TemplateDefinition{
		Offset:     offset,
		NextOffset: next,
		DataLength: dataLength,
		Data:       data,
	}
	copy(def.GUID[:], guidBytes)
	def.TemplateID = uint32(guidBytes[0]) | uint32(guidBytes[1])<<8 |
		uint32(guidBytes[2])<<16 | uint32(guidBytes[3])<<24
	return def, nil
}

// parsedRoot lazily parses and caches the template's BXML child tree
// (phase 1 token parsing only; templates carry substitution holes,
// not their own substitution vector).
func (d *TemplateDefinition) parsedRoot(chunk *ChunkHeader, warn func(string)) ([]Node, error) {
	if d.rootDone {
		return d.root, d.rootErr
	}
	d.rootDone = true
	cur := NewCursorAt(chunk.Data, d.Offset+templateHeaderSize)
	end := d.Offset + templateHeaderSize + d.DataLength
	children, _, _, err := parseChildren(cur, chunk, end, false, warn)
	d.root, d.rootErr = children, err
	return d.root, d.rootErr
}
