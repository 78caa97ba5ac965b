// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"errors"
	"testing"
)

func TestParseFileHeaderValid(t *testing.T) {
	buf := buildFileHeader(2, 5)
	h, err := parseFileHeader(buf)
	if err != nil {
		t.Fatalf("parseFileHeader() failed, reason: %v", err)
	}
	if h.MajorVersion != 3 || h.MinorVersion != 1 {
		t.Errorf("version got %d.%d, want 3.1", h.MajorVersion, h.MinorVersion)
	}
	if h.ChunkCount != 2 {
		t.Errorf("ChunkCount got %d, want 2", h.ChunkCount)
	}
	if h.NextRecordNumber != 5 {
		t.Errorf("NextRecordNumber got %d, want 5", h.NextRecordNumber)
	}
}

func TestParseFileHeaderBadMagic(t *testing.T) {
	buf := buildFileHeader(1, 1)
	buf[0] = 'X'
	if _, err := parseFileHeader(buf); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("parseFileHeader() got %v, want ErrInvalidHeader", err)
	}
}

func TestParseFileHeaderBadChecksum(t *testing.T) {
	buf := buildFileHeader(1, 1)
	buf[fileHeaderCRCOff] ^= 0xFF
	if _, err := parseFileHeader(buf); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("parseFileHeader() got %v, want ErrInvalidHeader", err)
	}
}

func TestParseFileHeaderTooSmall(t *testing.T) {
	if _, err := parseFileHeader(make([]byte, 10)); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("parseFileHeader() got %v, want ErrInvalidHeader", err)
	}
}

func TestChunkOffsets(t *testing.T) {
	buf := buildFileHeader(2, 1)
	slab := append(buf, make([]byte, 2*chunkSize)...)
	h, err := parseFileHeader(slab)
	if err != nil {
		t.Fatalf("parseFileHeader() failed, reason: %v", err)
	}
	offsets := h.chunkOffsets(len(slab), false)
	if len(offsets) != 2 {
		t.Fatalf("chunkOffsets() got %d entries, want 2", len(offsets))
	}
	if offsets[0] != FileHeaderSize || offsets[1] != FileHeaderSize+chunkSize {
		t.Errorf("chunkOffsets() got %v", offsets)
	}
}
