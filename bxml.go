// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"errors"
	"fmt"
)

// BXML token kinds. The lower nibble of a node's first byte selects
// one of these 17 closed variants; the upper nibble carries flags.
const (
	tokEndOfStream          byte = 0x00
	tokOpenStartElement     byte = 0x01
	tokCloseStartElement    byte = 0x02
	tokCloseEmptyElement    byte = 0x03
	tokCloseElement         byte = 0x04
	tokValue                byte = 0x05
	tokAttribute            byte = 0x06
	tokCDataSection         byte = 0x07
	tokCharacterReference   byte = 0x08
	tokEntityReference      byte = 0x09
	tokPIProcTarget         byte = 0x0A
	tokPIProcData           byte = 0x0B
	tokTemplateInstance     byte = 0x0C
	tokNormalSubstitution   byte = 0x0D
	tokOptionalSubstitution byte = 0x0E
	tokStartOfStream        byte = 0x0F
	tokFragmentHeader       byte = 0x10
)

// flagHasAttributes marks an OpenStartElement that carries attributes
// (an extra 4-byte attribute-list-size field follows the tag header).
const flagHasAttributes byte = 0x04

// Node is the closed set of BXML token kinds. DeclaredLength is the
// node's logical span as used to locate the next sibling or the
// substitution header; it is NOT always equal to how many bytes the
// cursor actually advanced while parsing it (OpenStartElement is the
// one case where the two diverge: see base spec §9).
type Node interface {
	Token() byte
	DeclaredLength() uint32
}

// EndOfStreamNode terminates a child sequence. It is never added to a
// parent's Children list; it only appears as a loop sentinel.
type EndOfStreamNode struct{}

func (n *EndOfStreamNode) Token() byte          { return tokEndOfStream }
func (n *EndOfStreamNode) DeclaredLength() uint32 { return 0 }

// OpenStartElementNode is an element's opening tag plus its full
// content (attributes, the CloseStartElement/CloseEmptyElement split,
// and any child nodes).
type OpenStartElementNode struct {
	Flags      byte
	NameOffset uint32
	Name       string
	Size       uint32
	TagLength  uint32
	Attributes []*AttributeNode
	Children   []Node
}

func (n *OpenStartElementNode) Token() byte          { return tokOpenStartElement }
func (n *OpenStartElementNode) DeclaredLength() uint32 { return n.TagLength }

// HasAttributes reports whether the has-attributes flag was set.
func (n *OpenStartElementNode) HasAttributes() bool { return n.Flags&flagHasAttributes != 0 }

type CloseStartElementNode struct{}

func (n *CloseStartElementNode) Token() byte          { return tokCloseStartElement }
func (n *CloseStartElementNode) DeclaredLength() uint32 { return 1 }

type CloseEmptyElementNode struct{}

func (n *CloseEmptyElementNode) Token() byte          { return tokCloseEmptyElement }
func (n *CloseEmptyElementNode) DeclaredLength() uint32 { return 1 }

type CloseElementNode struct{}

func (n *CloseElementNode) Token() byte          { return tokCloseElement }
func (n *CloseElementNode) DeclaredLength() uint32 { return 1 }

// ValueNode holds a top-level (length-prefixed) variant value, e.g.
// the sole child of an Attribute or literal element content.
type ValueNode struct {
	VType          byte
	Val            Variant
	declaredLength uint32
}

func (n *ValueNode) Token() byte            { return tokValue }
func (n *ValueNode) DeclaredLength() uint32 { return n.declaredLength }

// AttributeNode is an element attribute: a name plus exactly one
// value child (a ValueNode or a substitution node).
type AttributeNode struct {
	NameOffset     uint32
	Name           string
	Value          Node
	declaredLength uint32
}

func (n *AttributeNode) Token() byte            { return tokAttribute }
func (n *AttributeNode) DeclaredLength() uint32 { return n.declaredLength }

type CDataSectionNode struct {
	Text           string
	declaredLength uint32
}

func (n *CDataSectionNode) Token() byte            { return tokCDataSection }
func (n *CDataSectionNode) DeclaredLength() uint32 { return n.declaredLength }

type CharacterReferenceNode struct {
	CodePoint uint16
}

func (n *CharacterReferenceNode) Token() byte          { return tokCharacterReference }
func (n *CharacterReferenceNode) DeclaredLength() uint32 { return 3 }

type EntityReferenceNode struct {
	Name           string
	declaredLength uint32
}

func (n *EntityReferenceNode) Token() byte            { return tokEntityReference }
func (n *EntityReferenceNode) DeclaredLength() uint32 { return n.declaredLength }

type PIProcTargetNode struct {
	Name           string
	declaredLength uint32
}

func (n *PIProcTargetNode) Token() byte            { return tokPIProcTarget }
func (n *PIProcTargetNode) DeclaredLength() uint32 { return n.declaredLength }

type PIProcDataNode struct {
	Text           string
	declaredLength uint32
}

func (n *PIProcDataNode) Token() byte            { return tokPIProcData }
func (n *PIProcDataNode) DeclaredLength() uint32 { return n.declaredLength }

// TemplateInstanceNode references a template definition, either a
// back-reference to an already-cached (or not-yet-cached, to be
// fetched from the chunk's bucket table) offset, or a resident
// definition inlined immediately after this node.
type TemplateInstanceNode struct {
	Unknown        byte
	TemplateID     uint32
	TemplateOffset uint32
	Resident       bool
	declaredLength uint32
}

func (n *TemplateInstanceNode) Token() byte            { return tokTemplateInstance }
func (n *TemplateInstanceNode) DeclaredLength() uint32 { return n.declaredLength }

type NormalSubstitutionNode struct {
	Index uint16
	VType byte
}

func (n *NormalSubstitutionNode) Token() byte          { return tokNormalSubstitution }
func (n *NormalSubstitutionNode) DeclaredLength() uint32 { return 4 }

type OptionalSubstitutionNode struct {
	Index uint16
	VType byte
}

func (n *OptionalSubstitutionNode) Token() byte          { return tokOptionalSubstitution }
func (n *OptionalSubstitutionNode) DeclaredLength() uint32 { return 4 }

type StartOfStreamNode struct{}

func (n *StartOfStreamNode) Token() byte          { return tokStartOfStream }
func (n *StartOfStreamNode) DeclaredLength() uint32 { return 4 }

type FragmentHeaderNode struct{}

func (n *FragmentHeaderNode) Token() byte          { return tokFragmentHeader }
func (n *FragmentHeaderNode) DeclaredLength() uint32 { return 5 }

// resolveName resolves a name reference that is either inline
// (immediately following the current node's fixed header, when
// nameOffset > nodeStart) or a back-reference into the chunk's
// interned string table. It returns the resolved name and, for the
// inline case, the number of bytes the inline NameString occupied
// (needed by the caller's tag_length/declared_length formula).
func resolveName(cur *Cursor, chunk *ChunkHeader, nameOffset, nodeStart uint32, warn func(string)) (string, uint32, error) {
	if nameOffset > nodeStart {
		ns, err := parseNameString(cur, nameOffset)
		if err != nil {
			return "", 0, err
		}
		chunk.cacheString(ns)
		return ns.Value, nameStringNodeLength(ns.Length), nil
	}
	ns, err := chunk.lookupString(nameOffset, warn)
	if err != nil {
		return "", 0, err
	}
	return ns.Value, 0, nil
}

// parseNode reads one node's leading token byte and dispatches to its
// constructor. embedded selects embedded-BXML semantics for any
// substitution/attribute value nested beneath this node.
func parseNode(cur *Cursor, chunk *ChunkHeader, embedded bool, warn func(string)) (Node, error) {
	nodeStart := cur.Tell()
	b, err := cur.U8()
	if err != nil {
		return nil, err
	}
	// FragmentHeader's value (0x10) does not fit in a nibble; it is
	// distinguished by the full byte before any other node's
	// flags/token split is considered.
	if b == tokFragmentHeader {
		return parseFragmentHeader(cur)
	}
	flags := b >> 4
	token := b & 0x0F

	switch token {
	case tokEndOfStream:
		return &EndOfStreamNode{}, nil
	case tokOpenStartElement:
		return parseOpenStartElement(cur, chunk, nodeStart, flags, warn)
	case tokCloseStartElement:
		return &CloseStartElementNode{}, nil
	case tokCloseEmptyElement:
		return &CloseEmptyElementNode{}, nil
	case tokCloseElement:
		return &CloseElementNode{}, nil
	case tokValue:
		return parseValueNode(cur, warn)
	case tokAttribute:
		return parseAttributeNode(cur, chunk, nodeStart, embedded, warn)
	case tokCDataSection:
		return parseCDataSection(cur)
	case tokCharacterReference:
		return parseCharacterReference(cur)
	case tokEntityReference:
		return parseEntityReference(cur, chunk, nodeStart, warn)
	case tokPIProcTarget:
		return parsePIProcTarget(cur, chunk, nodeStart, warn)
	case tokPIProcData:
		return parsePIProcData(cur)
	case tokTemplateInstance:
		return parseTemplateInstanceNode(cur, chunk, nodeStart, embedded)
	case tokNormalSubstitution:
		return parseSubstitutionNode(cur, false)
	case tokOptionalSubstitution:
		return parseSubstitutionNode(cur, true)
	case tokStartOfStream:
		return parseStartOfStream(cur)
	case tokFragmentHeader:
		return parseFragmentHeader(cur)
	default:
		if warn != nil {
			warn(fmt.Sprintf("unknown BXML token 0x%x at chunk offset %d", token, nodeStart))
		}
		return nil, ErrUnknownToken
	}
}

// parseChildren parses a flat sequence of sibling nodes starting at
// the cursor's current position, stopping at EndOfStream or endBound,
// whichever comes first. It is used for the record/template root
// level and, with embedded=true, for an embedded BXML fragment, where
// parsing additionally stops immediately after a TemplateInstance per
// base spec §4.7.
func parseChildren(cur *Cursor, chunk *ChunkHeader, endBound uint32, embedded bool, warn func(string)) ([]Node, uint32, uint32, error) {
	start := cur.Tell()
	var children []Node
	var declaredSum uint32

	for {
		if cur.Tell() >= endBound {
			break
		}
		b, err := cur.U8At(cur.Tell())
		if err != nil {
			return children, declaredSum, cur.Tell() - start, err
		}
		if b != tokFragmentHeader && b&0x0F == tokEndOfStream {
			cur.Advance(1)
			break
		}
		node, err := parseNode(cur, chunk, embedded, warn)
		if err != nil {
			if errors.Is(err, ErrUnknownToken) {
				break
			}
			return children, declaredSum, cur.Tell() - start, err
		}
		children = append(children, node)
		declaredSum += node.DeclaredLength()
		if embedded {
			if _, ok := node.(*TemplateInstanceNode); ok {
				break
			}
		}
	}
	return children, declaredSum, cur.Tell() - start, nil
}

// parseElementChildren parses an element's content: zero or more
// child nodes terminated by CloseElement (consumed) or by reaching
// end (a defensive bound, never exceeded by a well-formed file).
func parseElementChildren(cur *Cursor, chunk *ChunkHeader, end uint32, warn func(string)) ([]Node, error) {
	var children []Node
	for {
		if cur.Tell() >= end {
			break
		}
		b, err := cur.U8At(cur.Tell())
		if err != nil {
			return children, err
		}
		if b&0x0F == tokCloseElement {
			cur.Advance(1)
			break
		}
		node, err := parseNode(cur, chunk, false, warn)
		if err != nil {
			if errors.Is(err, ErrUnknownToken) {
				break
			}
			return children, err
		}
		children = append(children, node)
	}
	return children, nil
}

func parseOpenStartElement(cur *Cursor, chunk *ChunkHeader, nodeStart uint32, flags byte, warn func(string)) (*OpenStartElementNode, error) {
	if _, err := cur.U16LE(); err != nil { // unknown0
		return nil, err
	}
	size, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	nameOffset, err := cur.U32LE()
	if err != nil {
		return nil, err
	}

	hasAttrs := flags&flagHasAttributes != 0
	if hasAttrs {
		if _, err := cur.U32LE(); err != nil { // attribute list size
			return nil, err
		}
	}

	name, inlineLen, err := resolveName(cur, chunk, nameOffset, nodeStart, warn)
	if err != nil {
		return nil, err
	}

	tagLength := uint32(11)
	if hasAttrs {
		tagLength += 4
	}
	tagLength += inlineLen

	contentStart := nodeStart + tagLength
	contentEnd := contentStart + size
	cur.Seek(contentStart)

	el := &OpenStartElementNode{
		Flags: flags, NameOffset: nameOffset, Name: name,
		Size: size, TagLength: tagLength,
	}

	for cur.Tell() < contentEnd {
		b, err := cur.U8At(cur.Tell())
		if err != nil {
			return nil, err
		}
		if b&0x0F != tokAttribute {
			break
		}
		node, err := parseNode(cur, chunk, false, warn)
		if err != nil {
			return nil, err
		}
		attr, ok := node.(*AttributeNode)
		if !ok {
			break
		}
		el.Attributes = append(el.Attributes, attr)
	}

	if cur.Tell() < contentEnd {
		b, err := cur.U8At(cur.Tell())
		if err != nil {
			return nil, err
		}
		switch b & 0x0F {
		case tokCloseEmptyElement:
			cur.Advance(1)
		case tokCloseStartElement:
			cur.Advance(1)
			children, err := parseElementChildren(cur, chunk, contentEnd, warn)
			if err != nil {
				return nil, err
			}
			el.Children = children
		}
	}

	cur.Seek(contentEnd)
	return el, nil
}

func parseAttributeNode(cur *Cursor, chunk *ChunkHeader, nodeStart uint32, embedded bool, warn func(string)) (*AttributeNode, error) {
	nameOffset, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	name, inlineLen, err := resolveName(cur, chunk, nameOffset, nodeStart, warn)
	if err != nil {
		return nil, err
	}
	child, err := parseNode(cur, chunk, embedded, warn)
	if err != nil {
		return nil, err
	}
	return &AttributeNode{
		NameOffset: nameOffset, Name: name, Value: child,
		declaredLength: 5 + inlineLen + child.DeclaredLength(),
	}, nil
}

func parseValueNode(cur *Cursor, warn func(string)) (*ValueNode, error) {
	typ, err := cur.U8()
	if err != nil {
		return nil, err
	}
	v, consumed, err := decodeTopLevelVariant(cur, typ, warn)
	if err != nil {
		return nil, err
	}
	return &ValueNode{VType: typ, Val: v, declaredLength: 2 + consumed}, nil
}

func parseCDataSection(cur *Cursor) (*CDataSectionNode, error) {
	length, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	text, err := cur.ReadUTF16Exact(uint32(length) * 2)
	if err != nil {
		return nil, err
	}
	return &CDataSectionNode{Text: text, declaredLength: 1 + 2 + 2*uint32(length)}, nil
}

func parseCharacterReference(cur *Cursor) (*CharacterReferenceNode, error) {
	cp, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	return &CharacterReferenceNode{CodePoint: cp}, nil
}

func parseEntityReference(cur *Cursor, chunk *ChunkHeader, nodeStart uint32, warn func(string)) (*EntityReferenceNode, error) {
	nameOffset, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	name, inlineLen, err := resolveName(cur, chunk, nameOffset, nodeStart, warn)
	if err != nil {
		return nil, err
	}
	return &EntityReferenceNode{Name: name, declaredLength: 5 + inlineLen}, nil
}

func parsePIProcTarget(cur *Cursor, chunk *ChunkHeader, nodeStart uint32, warn func(string)) (*PIProcTargetNode, error) {
	nameOffset, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	name, inlineLen, err := resolveName(cur, chunk, nameOffset, nodeStart, warn)
	if err != nil {
		return nil, err
	}
	return &PIProcTargetNode{Name: name, declaredLength: 5 + inlineLen}, nil
}

func parsePIProcData(cur *Cursor) (*PIProcDataNode, error) {
	length, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	text, err := cur.ReadUTF16Exact(uint32(length) * 2)
	if err != nil {
		return nil, err
	}
	return &PIProcDataNode{Text: text, declaredLength: 1 + 2 + 2*uint32(length)}, nil
}

// parseTemplateInstanceNode parses a TemplateInstance. When the
// template is resident (its full definition is inlined immediately
// after this node), a top-level parse physically owns those bytes and
// must advance its cursor past them; an embedded-BXML parse never has
// those bytes present in its stream (the definition is already
// reachable through the chunk's template cache by offset), so the
// cursor must NOT advance past them there, per base spec §4.7/§4.6.
func parseTemplateInstanceNode(cur *Cursor, chunk *ChunkHeader, nodeStart uint32, embedded bool) (*TemplateInstanceNode, error) {
	unknown, err := cur.U8()
	if err != nil {
		return nil, err
	}
	templateID, err := cur.U32LE()
	if err != nil {
		return nil, err
	}
	templateOffset, err := cur.U32LE()
	if err != nil {
		return nil, err
	}

	declared := uint32(9)
	resident := templateOffset > nodeStart
	if resident {
		def, err := chunk.addTemplate(templateOffset)
		if err != nil {
			return nil, err
		}
		if !embedded {
			extra := templateHeaderSize + def.DataLength
			declared += extra
			cur.Advance(extra)
		}
	}

	return &TemplateInstanceNode{
		Unknown: unknown, TemplateID: templateID, TemplateOffset: templateOffset,
		Resident: resident, declaredLength: declared,
	}, nil
}

func parseSubstitutionNode(cur *Cursor, optional bool) (Node, error) {
	idx, err := cur.U16LE()
	if err != nil {
		return nil, err
	}
	typ, err := cur.U8()
	if err != nil {
		return nil, err
	}
	if optional {
		return &OptionalSubstitutionNode{Index: idx, VType: typ}, nil
	}
	return &NormalSubstitutionNode{Index: idx, VType: typ}, nil
}

func parseStartOfStream(cur *Cursor) (*StartOfStreamNode, error) {
	if _, err := cur.Bytes(3); err != nil {
		return nil, err
	}
	return &StartOfStreamNode{}, nil
}

func parseFragmentHeader(cur *Cursor) (*FragmentHeaderNode, error) {
	if _, err := cur.Bytes(4); err != nil {
		return nil, err
	}
	return &FragmentHeaderNode{}, nil
}
