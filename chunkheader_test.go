// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestParseChunkHeaderValid(t *testing.T) {
	buf := buildChunk()
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	if ch.FileFirstRecordNumber != 1 || ch.FileLastRecordNumber != 1 {
		t.Errorf("record range got [%d,%d], want [1,1]", ch.FileFirstRecordNumber, ch.FileLastRecordNumber)
	}
}

func TestParseChunkHeaderBadMagic(t *testing.T) {
	buf := buildChunk()
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	buf[0] = 'X'
	if _, err := parseChunkHeader(buf, 0, nil); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("parseChunkHeader() got %v, want ErrInvalidChunk", err)
	}
}

func TestParseChunkHeaderBadHeaderCRC(t *testing.T) {
	buf := buildChunk()
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	buf[chunkHeaderCRCOff] ^= 0xFF
	if _, err := parseChunkHeader(buf, 0, nil); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("parseChunkHeader() got %v, want ErrInvalidChunk", err)
	}
}

func TestParseChunkHeaderBadDataCRC(t *testing.T) {
	buf := buildChunk()
	finalizeChunk(buf, 1, 1, chunkDataStartOffset+16)
	buf[chunkDataStartOffset] ^= 0xFF // corrupt a data byte after the CRC was computed over it
	if _, err := parseChunkHeader(buf, 0, nil); !errors.Is(err, ErrInvalidChunk) {
		t.Errorf("parseChunkHeader() got %v, want ErrInvalidChunk", err)
	}
}

func TestChunkHeaderLookupStringLazyAndCached(t *testing.T) {
	buf := buildChunk()
	const off = uint32(0x300)
	writeNameStringEntry(buf, off, 0, "Provider")
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	ns, err := ch.lookupString(off, nil)
	if err != nil {
		t.Fatalf("lookupString() failed, reason: %v", err)
	}
	if ns.Value != "Provider" {
		t.Errorf("lookupString() got %q, want %q", ns.Value, "Provider")
	}
	if _, ok := ch.stringTable[off]; !ok {
		t.Errorf("lookupString() did not cache the entry")
	}
}

func TestChunkHeaderStringBucketChain(t *testing.T) {
	buf := buildChunk()
	const (
		off1 = uint32(0x300)
		off2 = uint32(0x320)
	)
	len1 := writeNameStringEntry(buf, off1, off2, "First")
	_ = len1
	writeNameStringEntry(buf, off2, 0, "Second")
	binary.LittleEndian.PutUint32(buf[chunkStringBucketsOffset:], off1)
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	if err := ch.loadStringTable(); err != nil {
		t.Fatalf("loadStringTable() failed, reason: %v", err)
	}
	if len(ch.stringTable) != 2 {
		t.Fatalf("loadStringTable() cached %d entries, want 2", len(ch.stringTable))
	}
	if ch.stringTable[off1].Value != "First" || ch.stringTable[off2].Value != "Second" {
		t.Errorf("loadStringTable() got unexpected values %+v", ch.stringTable)
	}
}

func TestChunkHeaderStringBucketCycleGuard(t *testing.T) {
	buf := buildChunk()
	const off = uint32(0x300)
	// A self-referencing entry: next_offset points back at itself.
	writeNameStringEntry(buf, off, off, "Self")
	binary.LittleEndian.PutUint32(buf[chunkStringBucketsOffset:], off)
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- ch.loadStringTable() }()
	if err := <-done; err != nil {
		t.Fatalf("loadStringTable() failed, reason: %v", err)
	}
	if len(ch.stringTable) != 1 {
		t.Errorf("loadStringTable() cached %d entries, want 1", len(ch.stringTable))
	}
}

func TestChunkHeaderTemplateCache(t *testing.T) {
	buf := buildChunk()
	const off = uint32(0x400)
	writeTemplateDefinition(buf, off, 0, 0xAABBCCDD, []byte{0x00}) // EndOfStream-only body
	finalizeChunk(buf, 1, 1, chunkDataStartOffset)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	def1, err := ch.addTemplate(off)
	if err != nil {
		t.Fatalf("addTemplate() failed, reason: %v", err)
	}
	if def1.TemplateID != 0xAABBCCDD {
		t.Errorf("TemplateID got 0x%x, want 0xAABBCCDD", def1.TemplateID)
	}
	if def1.DataLength != 1 {
		t.Errorf("DataLength got %d, want 1", def1.DataLength)
	}
	def2, err := ch.getTemplate(off)
	if err != nil {
		t.Fatalf("getTemplate() failed, reason: %v", err)
	}
	if def1 != def2 {
		t.Errorf("getTemplate() returned a different instance than addTemplate(), cache not reused")
	}
}

func TestChunkHeaderRecordsStopsAtInvalid(t *testing.T) {
	buf := buildChunk()
	off := uint32(chunkDataStartOffset)
	off = writeRecordFrame(buf, off, 0x20, 1, 0)
	off += 0x20 - recordHeaderSize // advance past this record's declared body+trailer
	off2 := off
	off2 = writeRecordFrame(buf, off2, 0x20, 2, 0)
	off2 += 0x20 - recordHeaderSize
	// Corrupt the third record's magic so iteration stops there.
	binary.LittleEndian.PutUint32(buf[off2:], 0xDEADBEEF)
	finalizeChunk(buf, 1, 2, off2+4)
	ch, err := parseChunkHeader(buf, 0, nil)
	if err != nil {
		t.Fatalf("parseChunkHeader() failed, reason: %v", err)
	}
	offsets := ch.records()
	if len(offsets) != 2 {
		t.Fatalf("records() got %d offsets, want 2: %v", len(offsets), offsets)
	}
	if offsets[0] != chunkDataStartOffset {
		t.Errorf("records()[0] got %d, want %d", offsets[0], chunkDataStartOffset)
	}
}
