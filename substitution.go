// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "strconv"

// substitutionDescriptor is one entry of a substitution vector's
// descriptor table: declared byte size and variant type of the value
// that follows the table, in the same order.
type substitutionDescriptor struct {
	size uint16
	typ  byte
}

// maxSubstitutionCount is the sanity bound from base spec §5: a count
// above this is evidence of a misaligned substitution header rather
// than a real substitution vector, so the top-level -1/uncorrected
// offset probe in resolveRecordSubstitutions can tell a clean parse
// from a garbage one.
const maxSubstitutionCount = 1024

// parseSubstitutionVector reads a substitution array: a uint32 count,
// then count 4-byte descriptors (size u16, type u8, reserved u8), then
// count values back-to-back whose sizes are given by the descriptors.
func parseSubstitutionVector(cur *Cursor, warn func(string)) ([]Variant, error) {
	count, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	if count > maxSubstitutionCount {
		return nil, ErrSubstitutionHeaderInvalid
	}
	descs := make([]substitutionDescriptor, count)
	for i := range descs {
		size, err := cur.U16LE()
		if err != nil {
			return nil, err
		}
		typ, err := cur.U8()
		if err != nil {
			return nil, err
		}
		if _, err := cur.U8(); err != nil { // reserved
			return nil, err
		}
		descs[i] = substitutionDescriptor{size: size, typ: typ}
	}
	vals := make([]Variant, count)
	for i, d := range descs {
		v, err := decodeSubstitutionValue(cur, d.typ, d.size, warn)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// trySubstitutionVectorAt attempts to parse a substitution vector at
// a candidate chunk-relative offset, rejecting the attempt (ok=false)
// rather than erroring if the result looks implausible or runs past
// recEnd. This backs the top-level header-offset correction: the
// caller tries offset-1 first, per base spec §4.8, and falls back to
// the uncorrected offset if that reading fails sanity checks.
func trySubstitutionVectorAt(chunk *ChunkHeader, offset, recEnd uint32, warn func(string)) ([]Variant, bool) {
	if offset >= recEnd || offset >= uint32(len(chunk.Data)) {
		return nil, false
	}
	cur := NewCursorAt(chunk.Data, offset)
	vals, err := parseSubstitutionVector(cur, nil)
	if err != nil {
		return nil, false
	}
	if cur.Tell() > recEnd {
		return nil, false
	}
	return vals, true
}

// resolveRecordSubstitutions locates and parses a record's
// substitution vector. The top-level header position is computed as
// bodyStart + sum(declared_length) of the record's flat root children
// (StartOfStream, FragmentHeader, TemplateInstance), corrected by -1;
// if that position fails to parse into a plausible vector, parsing is
// retried at the uncorrected position and a warning is emitted.
func resolveRecordSubstitutions(chunk *ChunkHeader, rec *Record, warn func(string)) (*TemplateDefinition, []Variant, error) {
	children, headerGuess, err := rec.root(chunk, warn)
	if err != nil {
		return nil, nil, err
	}

	var ti *TemplateInstanceNode
	for _, n := range children {
		if t, ok := n.(*TemplateInstanceNode); ok {
			ti = t
			break
		}
	}
	if ti == nil {
		return nil, nil, ErrTemplateMissing
	}
	def, err := chunk.getTemplate(ti.TemplateOffset)
	if err != nil {
		return nil, nil, err
	}

	recEnd := rec.Offset + rec.Size - 4
	if vals, ok := trySubstitutionVectorAt(chunk, headerGuess-1, recEnd, warn); ok {
		return def, vals, nil
	}
	if vals, ok := trySubstitutionVectorAt(chunk, headerGuess, recEnd, warn); ok {
		if warn != nil {
			warn("substitution header required uncorrected offset fallback for record " + recordLabel(rec))
		}
		return def, vals, nil
	}
	return nil, nil, ErrSubstitutionHeaderInvalid
}

func recordLabel(rec *Record) string {
	return strconv.FormatUint(rec.RecordNumber, 10)
}
