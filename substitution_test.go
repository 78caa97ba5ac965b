// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "testing"

func TestParseSubstitutionVector(t *testing.T) {
	buf := make([]byte, 64)
	pos := 0
	putU32At(buf, pos, 2) // count
	pos += 4
	// descriptor 0: size=4, type=VariantUInt32, reserved=0
	putU16LEAt(buf, pos, 4)
	pos += 2
	buf[pos] = byte(VariantUInt32)
	pos++
	buf[pos] = 0
	pos++
	// descriptor 1: size=2, type=VariantWString, reserved=0
	putU16LEAt(buf, pos, 2)
	pos += 2
	buf[pos] = byte(VariantWString)
	pos++
	buf[pos] = 0
	pos++
	// value 0: uint32 42
	putU32At(buf, pos, 42)
	pos += 4
	// value 1: wstring "h" (1 code unit)
	buf[pos], buf[pos+1] = 'h', 0
	pos += 2

	cur := NewCursor(buf)
	vals, err := parseSubstitutionVector(cur, nil)
	if err != nil {
		t.Fatalf("parseSubstitutionVector() failed, reason: %v", err)
	}
	if len(vals) != 2 {
		t.Fatalf("got %d values, want 2", len(vals))
	}
	if vals[0].UInt != 42 {
		t.Errorf("vals[0].UInt got %d, want 42", vals[0].UInt)
	}
	if vals[1].Str != "h" {
		t.Errorf("vals[1].Str got %q, want %q", vals[1].Str, "h")
	}
	if cur.Tell() != uint32(pos) {
		t.Errorf("Tell() got %d, want %d", cur.Tell(), pos)
	}
}

func TestParseSubstitutionVectorRejectsOversizedCount(t *testing.T) {
	buf := make([]byte, 8)
	putU32At(buf, 0, maxSubstitutionCount+1)
	cur := NewCursor(buf)
	if _, err := parseSubstitutionVector(cur, nil); err != ErrSubstitutionHeaderInvalid {
		t.Errorf("parseSubstitutionVector() got %v, want ErrSubstitutionHeaderInvalid", err)
	}
}

func TestTrySubstitutionVectorAtRejectsPastRecEnd(t *testing.T) {
	chunk := &ChunkHeader{Data: make([]byte, chunkSize)}
	const offset = uint32(0x200)
	putU32At(chunk.Data, int(offset), 1) // count=1
	putU16LEAt(chunk.Data, int(offset)+4, 4)
	chunk.Data[offset+6] = byte(VariantUInt32)
	// Declares a value that would run past recEnd.
	_, ok := trySubstitutionVectorAt(chunk, offset, offset+6, nil)
	if ok {
		t.Errorf("trySubstitutionVectorAt() got ok=true, want false (value runs past recEnd)")
	}
}

func TestTrySubstitutionVectorAtAcceptsPlausibleVector(t *testing.T) {
	chunk := &ChunkHeader{Data: make([]byte, chunkSize)}
	const offset = uint32(0x200)
	putU32At(chunk.Data, int(offset), 1) // count=1
	putU16LEAt(chunk.Data, int(offset)+4, 4)
	chunk.Data[offset+6] = byte(VariantUInt32)
	putU32At(chunk.Data, int(offset)+8, 7)
	vals, ok := trySubstitutionVectorAt(chunk, offset, offset+12, nil)
	if !ok {
		t.Fatalf("trySubstitutionVectorAt() got ok=false, want true")
	}
	if len(vals) != 1 || vals[0].UInt != 7 {
		t.Errorf("vals got %+v, want one UInt=7", vals)
	}
}

func putU32At(buf []byte, offset int, v uint32) {
	buf[offset] = byte(v)
	buf[offset+1] = byte(v >> 8)
	buf[offset+2] = byte(v >> 16)
	buf[offset+3] = byte(v >> 24)
}

func putU16LEAt(buf []byte, offset int, v uint16) {
	buf[offset] = byte(v)
	buf[offset+1] = byte(v >> 8)
}
