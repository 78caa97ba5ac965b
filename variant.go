// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VariantType is the wire type tag carried by a substitution
// descriptor or a top-level Value node.
type VariantType byte

const (
	VariantNull          VariantType = 0x00
	VariantWString       VariantType = 0x01
	VariantString        VariantType = 0x02
	VariantSByte         VariantType = 0x03
	VariantByte          VariantType = 0x04
	VariantInt16         VariantType = 0x05
	VariantUInt16        VariantType = 0x06
	VariantInt32         VariantType = 0x07
	VariantUInt32        VariantType = 0x08
	VariantInt64         VariantType = 0x09
	VariantUInt64        VariantType = 0x0A
	VariantFloat         VariantType = 0x0B
	VariantDouble        VariantType = 0x0C
	VariantBoolean       VariantType = 0x0D
	VariantBinary        VariantType = 0x0E
	VariantGUID          VariantType = 0x0F
	VariantSizeT         VariantType = 0x10
	VariantFileTime      VariantType = 0x11
	VariantSysTime       VariantType = 0x12
	VariantSID           VariantType = 0x13
	VariantHex32         VariantType = 0x14
	VariantHex64         VariantType = 0x15
	VariantEvtXML        VariantType = 0x21
	VariantWStringArray  VariantType = 0x81
)

func (t VariantType) String() string {
	switch t {
	case VariantNull:
		return "Null"
	case VariantWString:
		return "WString"
	case VariantString:
		return "String"
	case VariantSByte:
		return "SByte"
	case VariantByte:
		return "Byte"
	case VariantInt16:
		return "Int16"
	case VariantUInt16:
		return "UInt16"
	case VariantInt32:
		return "Int32"
	case VariantUInt32:
		return "UInt32"
	case VariantInt64:
		return "Int64"
	case VariantUInt64:
		return "UInt64"
	case VariantFloat:
		return "Float"
	case VariantDouble:
		return "Double"
	case VariantBoolean:
		return "Boolean"
	case VariantBinary:
		return "Binary"
	case VariantGUID:
		return "GUID"
	case VariantSizeT:
		return "SizeT"
	case VariantFileTime:
		return "FileTime"
	case VariantSysTime:
		return "SysTime"
	case VariantSID:
		return "SID"
	case VariantHex32:
		return "Hex32"
	case VariantHex64:
		return "Hex64"
	case VariantEvtXML:
		return "BXml"
	case VariantWStringArray:
		return "WStringArray"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// Variant holds one decoded substitution value. Exactly one of the
// typed fields is meaningful, selected by Type.
type Variant struct {
	Type      VariantType  `json:"type"`
	Str       string       `json:"str,omitempty"`
	Int       int64        `json:"int,omitempty"`
	UInt      uint64       `json:"uint,omitempty"`
	Float64   float64      `json:"float,omitempty"`
	Bool      bool         `json:"bool,omitempty"`
	Bytes     []byte       `json:"bytes,omitempty"`
	Time      time.Time    `json:"time,omitempty"`
	GUID      string       `json:"guid,omitempty"`
	BXmlBase  uint32       `json:"bxml_base,omitempty"`
	StrArray  []string     `json:"str_array,omitempty"`
	IsNull    bool         `json:"is_null,omitempty"`
}

// decodeSubstitutionValue decodes a fixed-size substitution slot: the
// vector entry already states the byte size, so out-of-bounds data
// never spills into the next descriptor.
func decodeSubstitutionValue(cur *Cursor, typ byte, size uint16, warn func(string)) (Variant, error) {
	absOffset := cur.Tell()
	raw, err := cur.Bytes(uint32(size))
	if err != nil {
		return Variant{}, err
	}
	return decodeVariantBytes(VariantType(typ), raw, absOffset, warn)
}

// decodeTopLevelVariant decodes a length-prefixed Value node's payload,
// returning the variant and the number of bytes consumed after the
// type byte (used by the caller's declared_length accounting). Most
// types carry a u16 length prefix; Binary and BXml carry a u32 prefix,
// per base spec §4.5.
func decodeTopLevelVariant(cur *Cursor, typ byte, warn func(string)) (Variant, uint32, error) {
	switch VariantType(typ) {
	case VariantBinary, VariantEvtXML:
		length, err := cur.U32LE()
		if err != nil {
			return Variant{}, 0, err
		}
		absOffset := cur.Tell()
		raw, err := cur.Bytes(length)
		if err != nil {
			return Variant{}, 0, err
		}
		v, err := decodeVariantBytes(VariantType(typ), raw, absOffset, warn)
		return v, 4 + length, err
	default:
		length, err := cur.U16LE()
		if err != nil {
			return Variant{}, 0, err
		}
		absOffset := cur.Tell()
		raw, err := cur.Bytes(uint32(length))
		if err != nil {
			return Variant{}, 0, err
		}
		v, err := decodeVariantBytes(VariantType(typ), raw, absOffset, warn)
		return v, 2 + uint32(length), err
	}
}

func decodeVariantBytes(typ VariantType, raw []byte, absOffset uint32, warn func(string)) (Variant, error) {
	switch typ {
	case VariantNull:
		return Variant{Type: typ, IsNull: true}, nil
	case VariantWString:
		s, err := decodeWStringRaw(raw)
		return Variant{Type: typ, Str: s}, err
	case VariantString:
		return Variant{Type: typ, Str: string(raw)}, nil
	case VariantSByte:
		if len(raw) < 1 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Int: int64(int8(raw[0]))}, nil
	case VariantByte:
		if len(raw) < 1 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, UInt: uint64(raw[0])}, nil
	case VariantInt16:
		if len(raw) < 2 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Int: int64(int16(binary.LittleEndian.Uint16(raw)))}, nil
	case VariantUInt16:
		if len(raw) < 2 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, UInt: uint64(binary.LittleEndian.Uint16(raw))}, nil
	case VariantInt32:
		if len(raw) < 4 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Int: int64(int32(binary.LittleEndian.Uint32(raw)))}, nil
	case VariantUInt32:
		if len(raw) < 4 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, UInt: uint64(binary.LittleEndian.Uint32(raw))}, nil
	case VariantInt64:
		if len(raw) < 8 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Int: int64(binary.LittleEndian.Uint64(raw))}, nil
	case VariantUInt64:
		if len(raw) < 8 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, UInt: binary.LittleEndian.Uint64(raw)}, nil
	case VariantFloat:
		if len(raw) < 4 {
			return Variant{}, ErrOutOfBounds
		}
		bits := binary.LittleEndian.Uint32(raw)
		return Variant{Type: typ, Float64: float64(math.Float32frombits(bits))}, nil
	case VariantDouble:
		if len(raw) < 8 {
			return Variant{}, ErrOutOfBounds
		}
		bits := binary.LittleEndian.Uint64(raw)
		return Variant{Type: typ, Float64: math.Float64frombits(bits)}, nil
	case VariantBoolean:
		if len(raw) < 4 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Bool: binary.LittleEndian.Uint32(raw) != 0}, nil
	case VariantBinary:
		return Variant{Type: typ, Bytes: append([]byte(nil), raw...)}, nil
	case VariantGUID:
		g, err := decodeGUID(raw)
		return Variant{Type: typ, GUID: g}, err
	case VariantSizeT:
		if len(raw) == 8 {
			return Variant{Type: typ, UInt: binary.LittleEndian.Uint64(raw)}, nil
		}
		if len(raw) == 4 {
			return Variant{Type: typ, UInt: uint64(binary.LittleEndian.Uint32(raw))}, nil
		}
		return Variant{}, ErrOutOfBounds
	case VariantFileTime:
		if len(raw) < 8 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Time: filetimeToTime(binary.LittleEndian.Uint64(raw))}, nil
	case VariantSysTime:
		t, err := decodeSystemTime(raw)
		return Variant{Type: typ, Time: t}, err
	case VariantSID:
		s, err := decodeSID(raw)
		return Variant{Type: typ, Str: s}, err
	case VariantHex32:
		if len(raw) < 4 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Str: fmt.Sprintf("0x%x", binary.LittleEndian.Uint32(raw))}, nil
	case VariantHex64:
		if len(raw) < 8 {
			return Variant{}, ErrOutOfBounds
		}
		return Variant{Type: typ, Str: fmt.Sprintf("0x%x", binary.LittleEndian.Uint64(raw))}, nil
	case VariantEvtXML:
		// The embedded BXML fragment's bytes, though inline within
		// this substitution's own declared size, must be re-parsed
		// against the chunk's full byte range starting at absOffset:
		// a resident TemplateInstance inside it can extend past the
		// declared size, and its name/template back-references are
		// chunk-relative.
		return Variant{Type: typ, BXmlBase: absOffset}, nil
	case VariantWStringArray:
		arr, err := decodeWStringArray(raw)
		return Variant{Type: typ, StrArray: arr}, err
	default:
		if warn != nil {
			warn(fmt.Sprintf("unknown variant type 0x%02x, treating as opaque binary", byte(typ)))
		}
		return Variant{Type: typ, Bytes: append([]byte(nil), raw...)}, nil
	}
}

func decodeWStringRaw(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		raw = raw[:len(raw)-1]
	}
	s, err := transformUTF16LE(raw)
	if err != nil {
		return "", err
	}
	return trimTrailingNul(string(s)), nil
}

func decodeWStringArray(raw []byte) ([]string, error) {
	s, err := decodeWStringRaw(raw)
	if err != nil {
		return nil, err
	}
	var out []string
	start := 0
	for i, r := range s {
		if r == 0 {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out, nil
}

// decodeGUID reorders a Microsoft mixed-endian wire GUID (first three
// fields little-endian, last two big-endian) into RFC 4122 field
// order before formatting, matching how Windows serializes GUIDs on
// disk versus how uuid.UUID expects to print them.
func decodeGUID(raw []byte) (string, error) {
	if len(raw) < 16 {
		return "", ErrOutOfBounds
	}
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = raw[3], raw[2], raw[1], raw[0]
	u[4], u[5] = raw[5], raw[4]
	u[6], u[7] = raw[7], raw[6]
	copy(u[8:16], raw[8:16])
	return strings.ToUpper("{" + u.String() + "}"), nil
}

// decodeSystemTime decodes a Win32 SYSTEMTIME structure (8 uint16
// fields: year, month, day-of-week, day, hour, minute, second, ms).
func decodeSystemTime(raw []byte) (time.Time, error) {
	if len(raw) < 16 {
		return time.Time{}, ErrOutOfBounds
	}
	year := binary.LittleEndian.Uint16(raw[0:2])
	month := binary.LittleEndian.Uint16(raw[2:4])
	day := binary.LittleEndian.Uint16(raw[6:8])
	hour := binary.LittleEndian.Uint16(raw[8:10])
	minute := binary.LittleEndian.Uint16(raw[10:12])
	second := binary.LittleEndian.Uint16(raw[12:14])
	ms := binary.LittleEndian.Uint16(raw[14:16])
	return time.Date(int(year), time.Month(month), int(day), int(hour), int(minute),
		int(second), int(ms)*1e6, time.UTC), nil
}

// decodeSID decodes a Windows SID into its canonical S-R-A-S... text
// form.
func decodeSID(raw []byte) (string, error) {
	if len(raw) < 8 {
		return "", ErrOutOfBounds
	}
	revision := raw[0]
	subAuthorityCount := int(raw[1])
	var authority uint64
	for i := 2; i < 8; i++ {
		authority = authority<<8 | uint64(raw[i])
	}
	need := 8 + subAuthorityCount*4
	if len(raw) < need {
		return "", ErrOutOfBounds
	}
	sid := fmt.Sprintf("S-%d-%d", revision, authority)
	for i := 0; i < subAuthorityCount; i++ {
		off := 8 + i*4
		sub := binary.LittleEndian.Uint32(raw[off : off+4])
		sid += fmt.Sprintf("-%d", sub)
	}
	return sid, nil
}

func trimTrailingNul(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
