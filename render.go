// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"fmt"
	"strconv"
	"strings"
)

// Renderer walks a template's node tree together with a record's
// substitution vector, producing the record's rendered XML. It also
// recurses into embedded BXML substitutions, re-parsing them against
// the full chunk byte range rather than any locally copied slice.
type Renderer struct {
	chunk *ChunkHeader
	subs  []Variant
	warn  func(string)
}

// RenderEvent renders a record's template root against its
// substitution vector into an XML document fragment.
func RenderEvent(chunk *ChunkHeader, roots []Node, subs []Variant, warn func(string)) (string, error) {
	r := &Renderer{chunk: chunk, subs: subs, warn: warn}
	var b strings.Builder
	for _, n := range roots {
		if err := r.renderNode(&b, n); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (r *Renderer) renderNode(b *strings.Builder, n Node) error {
	switch v := n.(type) {
	case *OpenStartElementNode:
		return r.renderElement(b, v)
	case *ValueNode:
		b.WriteString(escapeXMLText(formatVariant(v.Val)))
		return nil
	case *CDataSectionNode:
		b.WriteString("<![CDATA[")
		b.WriteString(v.Text)
		b.WriteString("]]>")
		return nil
	case *CharacterReferenceNode:
		b.WriteString(fmt.Sprintf("&#x%X;", v.CodePoint))
		return nil
	case *EntityReferenceNode:
		b.WriteString("&")
		b.WriteString(v.Name)
		b.WriteString(";")
		return nil
	case *NormalSubstitutionNode:
		return r.renderSubstitution(b, int(v.Index), false)
	case *OptionalSubstitutionNode:
		return r.renderSubstitution(b, int(v.Index), true)
	case *PIProcTargetNode, *PIProcDataNode, *StartOfStreamNode, *FragmentHeaderNode,
		*TemplateInstanceNode, *CloseStartElementNode, *CloseEmptyElementNode, *CloseElementNode,
		*EndOfStreamNode, *AttributeNode:
		// Not directly renderable as text content; attributes are
		// consumed by renderElement, the rest carry no text payload.
		return nil
	default:
		return fmt.Errorf("evtx: unrenderable node type %T", n)
	}
}

func (r *Renderer) renderElement(b *strings.Builder, el *OpenStartElementNode) error {
	b.WriteString("<")
	b.WriteString(el.Name)
	for _, attr := range el.Attributes {
		b.WriteString(" ")
		b.WriteString(attr.Name)
		b.WriteString("=\"")
		var vb strings.Builder
		if err := r.renderNode(&vb, attr.Value); err != nil {
			return err
		}
		b.WriteString(escapeXMLAttr(vb.String()))
		b.WriteString("\"")
	}
	if len(el.Children) == 0 {
		b.WriteString("/>")
		return nil
	}
	b.WriteString(">")
	for _, child := range el.Children {
		if err := r.renderNode(b, child); err != nil {
			return err
		}
	}
	b.WriteString("</")
	b.WriteString(el.Name)
	b.WriteString(">")
	return nil
}

func (r *Renderer) renderSubstitution(b *strings.Builder, index int, optional bool) error {
	if index < 0 || index >= len(r.subs) {
		if optional {
			return nil
		}
		return ErrOutOfBounds
	}
	v := r.subs[index]
	if v.IsNull {
		if optional {
			return nil
		}
		return nil
	}
	if v.Type == VariantEvtXML {
		text, err := r.renderEmbeddedBXml(v)
		if err != nil {
			return err
		}
		b.WriteString(text)
		return nil
	}
	if v.Type == VariantWStringArray {
		b.WriteString(escapeXMLText(strings.Join(v.StrArray, ", ")))
		return nil
	}
	b.WriteString(escapeXMLText(formatVariant(v)))
	return nil
}

// renderEmbeddedBXml re-parses an embedded BXML substitution at its
// absolute chunk offset, resolves its own local template instance and
// substitution vector (no -1 correction in embedded mode), and
// renders the result inline.
func (r *Renderer) renderEmbeddedBXml(v Variant) (string, error) {
	cur := NewCursorAt(r.chunk.Data, v.BXmlBase)
	children, _, _, err := parseChildren(cur, r.chunk, uint32(len(r.chunk.Data)), true, r.warn)
	if err != nil {
		return "", err
	}

	var ti *TemplateInstanceNode
	for _, n := range children {
		if t, ok := n.(*TemplateInstanceNode); ok {
			ti = t
			break
		}
	}
	if ti == nil {
		// A fragment with no template instance (rare: a bare literal
		// element tree) renders its own children directly.
		return RenderEvent(r.chunk, children, nil, r.warn)
	}

	def, err := r.chunk.getTemplate(ti.TemplateOffset)
	if err != nil {
		return "", err
	}
	embeddedSubs, err := parseSubstitutionVector(cur, r.warn)
	if err != nil {
		return "", err
	}
	root, err := def.parsedRoot(r.chunk, r.warn)
	if err != nil {
		return "", err
	}
	return RenderEvent(r.chunk, root, embeddedSubs, r.warn)
}

func formatVariant(v Variant) string {
	switch v.Type {
	case VariantWString, VariantString, VariantSID, VariantHex32, VariantHex64:
		return v.Str
	case VariantGUID:
		return v.GUID
	case VariantBoolean:
		return strconv.FormatBool(v.Bool)
	case VariantSByte, VariantInt16, VariantInt32, VariantInt64:
		return strconv.FormatInt(v.Int, 10)
	case VariantByte, VariantUInt16, VariantUInt32, VariantUInt64, VariantSizeT:
		return strconv.FormatUint(v.UInt, 10)
	case VariantFloat, VariantDouble:
		return strconv.FormatFloat(v.Float64, 'g', -1, 64)
	case VariantFileTime, VariantSysTime:
		return v.Time.Format("2006-01-02T15:04:05.999999999Z07:00")
	case VariantBinary:
		return fmt.Sprintf("%X", v.Bytes)
	case VariantNull:
		return ""
	default:
		if len(v.Bytes) > 0 {
			return fmt.Sprintf("%X", v.Bytes)
		}
		return ""
	}
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
var attrEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "'", "&#x27;",
)

// stripControlChars removes U+0000..U+001F (except \t \n \r) and
// U+007F..U+009F before escaping, per base spec §4.7.
func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if (r >= 0x00 && r <= 0x1F) || (r >= 0x7F && r <= 0x9F) {
			return -1
		}
		return r
	}, s)
}

func escapeXMLText(s string) string {
	return textEscaper.Replace(stripControlChars(s))
}

func escapeXMLAttr(s string) string {
	return attrEscaper.Replace(stripControlChars(s))
}
