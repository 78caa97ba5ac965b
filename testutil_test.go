// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "encoding/binary"

// buildChunk returns a fresh, zeroed 64 KiB chunk slab with only the
// magic set, ready for a caller to write record/template bytes into
// before computing and stamping the header and data CRCs with
// finalizeChunk.
func buildChunk() []byte {
	buf := make([]byte, chunkSize)
	copy(buf[0:8], chunkHeaderMagic[:])
	return buf
}

// finalizeChunk stamps the chunk header's numeric fields and both
// CRC-32s once the caller has written record data into buf[0x200:].
func finalizeChunk(buf []byte, fileFirst, fileLast uint64, nextRecordOffset uint32) {
	binary.LittleEndian.PutUint64(buf[chunkFileFirstOff:], fileFirst)
	binary.LittleEndian.PutUint64(buf[chunkFileLastOff:], fileLast)
	binary.LittleEndian.PutUint64(buf[chunkLogFirstOff:], fileFirst)
	binary.LittleEndian.PutUint64(buf[chunkLogLastOff:], fileLast)
	binary.LittleEndian.PutUint32(buf[chunkHeaderSizeOff:], 0x80)
	binary.LittleEndian.PutUint32(buf[chunkLastRecOff:], chunkDataStartOffset)
	binary.LittleEndian.PutUint32(buf[chunkNextRecOff:], nextRecordOffset)

	dataCRC := CRC32(buf[chunkDataStartOffset:nextRecordOffset])
	binary.LittleEndian.PutUint32(buf[chunkDataCRCOff:], dataCRC)

	scratch := make([]byte, 0, 0x78+(chunkDataStartOffset-chunkStringBucketsOffset))
	scratch = append(scratch, buf[:0x78]...)
	scratch = append(scratch, buf[chunkStringBucketsOffset:chunkDataStartOffset]...)
	headerCRC := CRC32(scratch)
	binary.LittleEndian.PutUint32(buf[chunkHeaderCRCOff:], headerCRC)
}

// writeRecordFrame writes a record's fixed framing (magic, size,
// record number, FILETIME) at offset, plus the trailing duplicate size
// field at offset+size-4, and returns the offset where the BXML body
// begins.
func writeRecordFrame(buf []byte, offset uint32, size uint32, recordNumber uint64, filetime uint64) uint32 {
	binary.LittleEndian.PutUint32(buf[offset:], recordMagic)
	binary.LittleEndian.PutUint32(buf[offset+4:], size)
	binary.LittleEndian.PutUint64(buf[offset+8:], recordNumber)
	binary.LittleEndian.PutUint64(buf[offset+16:], filetime)
	binary.LittleEndian.PutUint32(buf[offset+size-4:], size)
	return offset + recordHeaderSize
}

// writeInlineName writes a NameString entry at offset (next_offset(4)
// zeroed, hash(2) zeroed, UTF-16LE value plus NUL terminator) and
// returns the number of bytes written.
func writeInlineName(buf []byte, offset uint32, value string) uint32 {
	units := utf16Units(value)
	binary.LittleEndian.PutUint32(buf[offset:], 0) // next_offset
	binary.LittleEndian.PutUint16(buf[offset+4:], 0) // hash
	binary.LittleEndian.PutUint16(buf[offset+6:], uint16(len(units)))
	pos := offset + 8
	for _, u := range units {
		binary.LittleEndian.PutUint16(buf[pos:], u)
		pos += 2
	}
	binary.LittleEndian.PutUint16(buf[pos:], 0) // terminator
	pos += 2
	return pos - offset
}

// utf16Units encodes s (ASCII-only, sufficient for fixtures) as UTF-16
// code units.
func utf16Units(s string) []uint16 {
	out := make([]uint16, len(s))
	for i, r := range []byte(s) {
		out[i] = uint16(r)
	}
	return out
}

// writeNameStringEntry writes a full NameString node (next_offset,
// hash, length, UTF-16LE payload, terminator) at offset with an
// explicit next_offset, for building bucket chains and cycle fixtures.
func writeNameStringEntry(buf []byte, offset, nextOffset uint32, value string) uint32 {
	units := utf16Units(value)
	binary.LittleEndian.PutUint32(buf[offset:], nextOffset)
	binary.LittleEndian.PutUint16(buf[offset+4:], 0) // hash
	binary.LittleEndian.PutUint16(buf[offset+6:], uint16(len(units)))
	pos := offset + 8
	for _, u := range units {
		binary.LittleEndian.PutUint16(buf[pos:], u)
		pos += 2
	}
	binary.LittleEndian.PutUint16(buf[pos:], 0) // terminator
	pos += 2
	return pos - offset
}

// writeTemplateDefinition writes a full template definition (24-byte
// header plus data) at offset and returns the total byte length
// written (24 + len(data)).
func writeTemplateDefinition(buf []byte, offset, nextOffset, templateID uint32, data []byte) uint32 {
	binary.LittleEndian.PutUint32(buf[offset:], nextOffset)
	binary.LittleEndian.PutUint32(buf[offset+4:], templateID) // guid[0:4] overlaps template id
	copy(buf[offset+8:offset+20], make([]byte, 12))
	binary.LittleEndian.PutUint32(buf[offset+20:], uint32(len(data)))
	copy(buf[offset+24:], data)
	return 24 + uint32(len(data))
}

// buildFileHeader returns a minimal, valid 4096-byte EVTX file header
// with the given chunk count and next record number.
func buildFileHeader(chunkCount uint16, nextRecordNumber uint64) []byte {
	buf := make([]byte, FileHeaderSize)
	copy(buf[0:8], FileHeaderMagic[:])
	binary.LittleEndian.PutUint64(buf[8:16], 1)                  // oldest chunk
	binary.LittleEndian.PutUint64(buf[16:24], uint64(chunkCount)) // current chunk
	binary.LittleEndian.PutUint64(buf[24:32], nextRecordNumber)
	binary.LittleEndian.PutUint32(buf[32:36], 0x80) // header size
	binary.LittleEndian.PutUint16(buf[36:38], 1)    // minor
	binary.LittleEndian.PutUint16(buf[38:40], 3)    // major
	binary.LittleEndian.PutUint32(buf[40:44], FileHeaderSize)
	binary.LittleEndian.PutUint16(buf[44:46], chunkCount)
	binary.LittleEndian.PutUint32(buf[fileHeaderFlagsOff:fileHeaderFlagsOff+4], 0)
	crc := CRC32(buf[0:fileHeaderCRCRegion])
	binary.LittleEndian.PutUint32(buf[fileHeaderCRCOff:fileHeaderCRCOff+4], crc)
	return buf
}
