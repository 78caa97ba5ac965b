// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"strconv"
)

const (
	chunkHeaderMagicLen      = 8
	chunkDataStartOffset     = 0x200
	chunkStringBucketCount   = 64
	chunkStringBucketsOffset = 0x80
	// chunkTemplateBucketCount is 32, not the 64 bucket heads used for
	// the string table: the CRC-protected region ends at 0x200 (where
	// record data begins), and 64 string buckets (0x80-0x180) leave
	// room for only 32 more 4-byte entries before that boundary.
	chunkTemplateBucketCount   = 32
	chunkTemplateBucketsOffset = 0x180

	chunkFileFirstOff  = 8
	chunkFileLastOff   = 16
	chunkLogFirstOff   = 24
	chunkLogLastOff    = 32
	chunkHeaderSizeOff = 40
	chunkLastRecOff    = 44
	chunkNextRecOff    = 48
	chunkDataCRCOff    = 52
	// chunkHeaderCRCOff sits at 0x7C, inside the [0x78,0x80) gap the
	// header CRC itself excludes from its own coverage (mirroring
	// fileheader.go's checksum field, which likewise lives just past
	// the range it covers).
	chunkHeaderCRCOff = 0x7C
)

var chunkHeaderMagic = [8]byte{'E', 'l', 'f', 'C', 'h', 'n', 'k', 0}

// ChunkHeader is one 64 KiB chunk of an EVTX file: its own header
// fields plus the lazily-populated interned string and template
// tables that every record in the chunk shares.
type ChunkHeader struct {
	FileOffset uint32 `json:"file_offset"`

	FileFirstRecordNumber uint64 `json:"file_first_record_number"`
	FileLastRecordNumber  uint64 `json:"file_last_record_number"`
	LogFirstRecordNumber  uint64 `json:"log_first_record_number"`
	LogLastRecordNumber   uint64 `json:"log_last_record_number"`
	HeaderSize            uint32 `json:"header_size"`
	LastRecordOffset      uint32 `json:"last_record_offset"`
	NextRecordOffset      uint32 `json:"next_record_offset"`
	DataCRC32             uint32 `json:"data_crc32"`
	HeaderCRC32           uint32 `json:"header_crc32"`

	// Data is the chunk's full 64 KiB byte range, chunk-relative
	// offset 0 at FileOffset. All BXML/record/template parsing
	// addresses this slice, never a copy of it, so that embedded BXML
	// substitutions can re-read arbitrary earlier offsets.
	Data []byte `json:"-"`

	stringTable   map[uint32]*NameString
	templateTable map[uint32]*TemplateDefinition
	warn          func(string)
}

// parseChunkHeader parses the chunk header at fileOffset within slab
// and binds the chunk's 64 KiB data range. It also checks the header
// and data CRCs through verify and fails if either does not match.
func parseChunkHeader(slab []byte, fileOffset uint32, warn func(string)) (*ChunkHeader, error) {
	if uint64(fileOffset)+chunkSize > uint64(len(slab)) {
		return nil, ErrInvalidChunk
	}
	data := slab[fileOffset : fileOffset+chunkSize]
	cur := NewCursor(data)

	magic, err := cur.Bytes(chunkHeaderMagicLen)
	if err != nil {
		return nil, err
	}
	ch := &ChunkHeader{
		FileOffset:    fileOffset,
		Data:          data,
		stringTable:   make(map[uint32]*NameString),
		templateTable: make(map[uint32]*TemplateDefinition),
		warn:          warn,
	}
	for i, b := range magic {
		if b != chunkHeaderMagic[i] {
			return nil, ErrInvalidChunk
		}
	}

	if ch.FileFirstRecordNumber, err = cur.U64LE(); err != nil {
		return nil, err
	}
	if ch.FileLastRecordNumber, err = cur.U64LE(); err != nil {
		return nil, err
	}
	if ch.LogFirstRecordNumber, err = cur.U64LE(); err != nil {
		return nil, err
	}
	if ch.LogLastRecordNumber, err = cur.U64LE(); err != nil {
		return nil, err
	}
	if ch.HeaderSize, err = cur.U32LE(); err != nil {
		return nil, err
	}
	if ch.LastRecordOffset, err = cur.U32LE(); err != nil {
		return nil, err
	}
	if ch.NextRecordOffset, err = cur.U32LE(); err != nil {
		return nil, err
	}
	if ch.DataCRC32, err = cur.U32LE(); err != nil {
		return nil, err
	}
	if ch.HeaderCRC32, err = cur.U32LEAt(chunkHeaderCRCOff); err != nil {
		return nil, err
	}

	if err := ch.verify(); err != nil {
		return nil, err
	}
	return ch, nil
}

// verify checks the chunk's header and data CRC32s. The header CRC
// covers the disjoint range [0,0x78) ∪ [0x80,0x200): the header_crc32
// field itself lives at 0x7C, inside the excluded [0x78,0x80) gap, so
// no scratch-and-zero step is needed (contrast a contiguous-range CRC
// that would need its own stored checksum blanked out first).
func (c *ChunkHeader) verify() error {
	scratch := make([]byte, 0, 0x78+(chunkDataStartOffset-chunkStringBucketsOffset))
	scratch = append(scratch, c.Data[:0x78]...)
	scratch = append(scratch, c.Data[chunkStringBucketsOffset:chunkDataStartOffset]...)
	if CRC32(scratch) != c.HeaderCRC32 {
		return ErrInvalidChunk
	}

	dataEnd := c.NextRecordOffset
	if dataEnd < chunkDataStartOffset || uint64(dataEnd) > uint64(len(c.Data)) {
		return ErrInvalidChunk
	}
	if CRC32(c.Data[chunkDataStartOffset:dataEnd]) != c.DataCRC32 {
		return ErrInvalidChunk
	}
	return nil
}

func (c *ChunkHeader) warnf(msg string) {
	if c.warn != nil {
		c.warn(msg)
	}
}

// cacheString records a NameString the caller has already parsed (the
// inline case, where the entry sits immediately after a node header).
func (c *ChunkHeader) cacheString(ns *NameString) {
	if _, ok := c.stringTable[ns.Offset]; !ok {
		c.stringTable[ns.Offset] = ns
	}
}

// lookupString resolves a back-reference to an interned name, loading
// it on demand from the chunk's byte range if not already cached.
func (c *ChunkHeader) lookupString(offset uint32, warn func(string)) (*NameString, error) {
	if ns, ok := c.stringTable[offset]; ok {
		return ns, nil
	}
	cur := NewCursor(c.Data)
	ns, err := parseNameString(cur, offset)
	if err != nil {
		if warn != nil {
			warn("unresolved name string offset " + strconv.Itoa(int(offset)))
		}
		return nil, err
	}
	c.stringTable[ns.Offset] = ns
	return ns, nil
}

// loadStringTable walks the 64 bucket-head chains at
// chunkStringBucketsOffset, caching every interned name reachable
// from them. Parsing does not require this to have run first: names
// are loaded lazily on first reference by lookupString.
func (c *ChunkHeader) loadStringTable() error {
	cur := NewCursorAt(c.Data, chunkStringBucketsOffset)
	for i := 0; i < chunkStringBucketCount; i++ {
		head, err := cur.U32LE()
		if err != nil {
			return err
		}
		offset := head
		seen := map[uint32]bool{}
		for offset != 0 {
			if seen[offset] {
				c.warnf("string bucket cycle at offset " + strconv.Itoa(int(offset)))
				break
			}
			seen[offset] = true
			ns, err := c.lookupString(offset, c.warn)
			if err != nil {
				break
			}
			offset = ns.NextOffset
		}
	}
	return nil
}

// addTemplate loads and caches the template definition at a
// chunk-relative offset, returning the cached copy if already loaded.
func (c *ChunkHeader) addTemplate(offset uint32) (*TemplateDefinition, error) {
	if def, ok := c.templateTable[offset]; ok {
		return def, nil
	}
	def, err := parseTemplateDefinition(c, offset)
	if err != nil {
		return nil, err
	}
	c.templateTable[offset] = def
	return def, nil
}

// getTemplate returns the template definition at a chunk-relative
// offset, parsing and caching it through addTemplate if needed.
func (c *ChunkHeader) getTemplate(offset uint32) (*TemplateDefinition, error) {
	return c.addTemplate(offset)
}

// loadTemplateTable eagerly walks the 32 template bucket-head chains,
// caching every definition reachable from them. Like loadStringTable
// this is optional: templates are otherwise resolved lazily through
// TemplateInstance nodes via addTemplate.
func (c *ChunkHeader) loadTemplateTable() error {
	cur := NewCursorAt(c.Data, chunkTemplateBucketsOffset)
	for i := 0; i < chunkTemplateBucketCount; i++ {
		head, err := cur.U32LE()
		if err != nil {
			return err
		}
		offset := head
		seen := map[uint32]bool{}
		for offset != 0 {
			if seen[offset] {
				c.warnf("template bucket cycle at offset " + strconv.Itoa(int(offset)))
				break
			}
			seen[offset] = true
			def, err := c.addTemplate(offset)
			if err != nil {
				break
			}
			offset = def.NextOffset
		}
	}
	return nil
}

// records returns an iterator-friendly slice of chunk-relative record
// start offsets, walking sequential Record framing from
// chunkDataStartOffset until NextRecordOffset, stopping gracefully on
// the first invalid record rather than failing the whole chunk.
func (c *ChunkHeader) records() []uint32 {
	var offsets []uint32
	offset := uint32(chunkDataStartOffset)
	for offset < c.NextRecordOffset {
		size, err := peekRecordSize(c.Data, offset)
		if err != nil || size == 0 {
			break
		}
		offsets = append(offsets, offset)
		offset += size
	}
	return offsets
}

