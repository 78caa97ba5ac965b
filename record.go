// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "time"

const (
	recordMagic       uint32 = 0x00002a2a
	recordHeaderSize  uint32 = 0x18
	recordMinSize     uint32 = recordHeaderSize + 4 // header + trailing size copy
	recordMaxSize     uint32 = 0x10000
	filetimeEpochDiff        = 116444736000000000 // 100ns ticks between 1601 and 1970
)

// Record is one event record's fixed framing: the magic, its declared
// size (checked twice, leading and trailing), record number, and
// creation timestamp. The BXML payload starts immediately after the
// header at chunk-relative offset+recordHeaderSize.
type Record struct {
	Offset       uint32    `json:"offset"`
	Size         uint32    `json:"size"`
	RecordNumber uint64    `json:"record_number"`
	Timestamp    time.Time `json:"timestamp"`
}

// peekRecordSize reads a record's declared size at a chunk-relative
// offset without validating the rest of its framing, so a chunk's
// records() iterator can advance without fully parsing every record.
func peekRecordSize(data []byte, offset uint32) (uint32, error) {
	cur := NewCursorAt(data, offset)
	magic, err := cur.U32LE()
	if err != nil {
		return 0, err
	}
	if magic != recordMagic {
		return 0, ErrInvalidRecord
	}
	size, err := cur.U32LE()
	if err != nil {
		return 0, err
	}
	if size < recordMinSize || size > recordMaxSize {
		return 0, ErrInvalidRecord
	}
	return size, nil
}

// parseRecord reads and validates a record's full framing at a
// chunk-relative offset, including the trailing duplicate size check.
func parseRecord(data []byte, offset uint32) (*Record, error) {
	cur := NewCursorAt(data, offset)
	magic, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	if magic != recordMagic {
		return nil, ErrInvalidRecord
	}
	size, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	if size < recordMinSize || size > recordMaxSize {
		return nil, ErrInvalidRecord
	}
	recordNumber, err := cur.U64LE()
	if err != nil {
		return nil, err
	}
	filetime, err := cur.U64LE()
	if err != nil {
		return nil, err
	}
	trailing, err := cur.U32LEAt(offset + size - 4)
	if err != nil {
		return nil, err
	}
	if trailing != size {
		return nil, ErrRecordSizeMismatch
	}
	return &Record{
		Offset:       offset,
		Size:         size,
		RecordNumber: recordNumber,
		Timestamp:    filetimeToTime(filetime),
	}, nil
}

// root parses the record's BXML payload: a StartOfStream token
// followed by the flat top-level child sequence (FragmentHeader,
// TemplateInstance, EndOfStream), returning the parsed children and
// bodyStart plus the sum of their declared lengths: the uncorrected
// substitution header position that resolveRecordSubstitutions probes,
// first with the -1 correction and then without it.
func (r *Record) root(chunk *ChunkHeader, warn func(string)) ([]Node, uint32, error) {
	bodyStart := r.Offset + recordHeaderSize
	bodyEnd := r.Offset + r.Size - 4
	cur := NewCursorAt(chunk.Data, bodyStart)

	children, declaredSum, _, err := parseChildren(cur, chunk, bodyEnd, false, warn)
	if err != nil {
		return children, 0, err
	}
	return children, bodyStart + declaredSum, nil
}

// filetimeToTime converts a Windows FILETIME (100ns ticks since
// 1601-01-01 UTC) to a time.Time. A zero value yields the Unix epoch
// rather than the FILETIME epoch, per base spec §4.4.
func filetimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Unix(0, 0).UTC()
	}
	if ft < filetimeEpochDiff {
		return time.Unix(0, 0).UTC()
	}
	unix100ns := int64(ft) - filetimeEpochDiff
	sec := unix100ns / 10000000
	nsec := (unix100ns % 10000000) * 100
	return time.Unix(sec, nsec).UTC()
}
