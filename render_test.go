// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "testing"

func TestRenderEventElementWithAttributeAndText(t *testing.T) {
	root := &OpenStartElementNode{
		Name: "Data",
		Attributes: []*AttributeNode{
			{Name: "Name", Value: &ValueNode{Val: Variant{Type: VariantString, Str: "Foo"}}},
		},
		Children: []Node{
			&ValueNode{Val: Variant{Type: VariantUInt32, UInt: 7}},
		},
	}
	got, err := RenderEvent(nil, []Node{root}, nil, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	want := `<Data Name="Foo">7</Data>`
	if got != want {
		t.Errorf("RenderEvent() got %q, want %q", got, want)
	}
}

func TestRenderEventEmptyElement(t *testing.T) {
	root := &OpenStartElementNode{Name: "EventID"}
	got, err := RenderEvent(nil, []Node{root}, nil, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	if got != "<EventID/>" {
		t.Errorf("RenderEvent() got %q, want %q", got, "<EventID/>")
	}
}

func TestRenderEventSubstitution(t *testing.T) {
	root := &OpenStartElementNode{
		Name:     "EventID",
		Children: []Node{&NormalSubstitutionNode{Index: 0}},
	}
	subs := []Variant{{Type: VariantUInt16, UInt: 4624}}
	got, err := RenderEvent(nil, []Node{root}, subs, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	if got != "<EventID>4624</EventID>" {
		t.Errorf("RenderEvent() got %q, want %q", got, "<EventID>4624</EventID>")
	}
}

func TestRenderEventOptionalSubstitutionOutOfRangeIsEmpty(t *testing.T) {
	root := &OpenStartElementNode{
		Name:     "Data",
		Children: []Node{&OptionalSubstitutionNode{Index: 5}},
	}
	got, err := RenderEvent(nil, []Node{root}, nil, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	if got != "<Data></Data>" {
		t.Errorf("RenderEvent() got %q, want %q", got, "<Data></Data>")
	}
}

func TestRenderEventRequiredSubstitutionOutOfRangeErrors(t *testing.T) {
	root := &OpenStartElementNode{
		Name:     "Data",
		Children: []Node{&NormalSubstitutionNode{Index: 5}},
	}
	if _, err := RenderEvent(nil, []Node{root}, nil, nil); err != ErrOutOfBounds {
		t.Errorf("RenderEvent() got %v, want ErrOutOfBounds", err)
	}
}

func TestRenderEventNullSubstitutionRendersEmpty(t *testing.T) {
	root := &OpenStartElementNode{
		Name:     "Data",
		Children: []Node{&NormalSubstitutionNode{Index: 0}},
	}
	subs := []Variant{{Type: VariantNull, IsNull: true}}
	got, err := RenderEvent(nil, []Node{root}, subs, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	if got != "<Data></Data>" {
		t.Errorf("RenderEvent() got %q, want %q", got, "<Data></Data>")
	}
}

func TestRenderEventEscapesText(t *testing.T) {
	root := &ValueNode{Val: Variant{Type: VariantString, Str: `<a & b>"c"`}}
	got, err := RenderEvent(nil, []Node{root}, nil, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	want := `&lt;a &amp; b&gt;"c"`
	if got != want {
		t.Errorf("RenderEvent() got %q, want %q", got, want)
	}
}

func TestRenderEventEscapesAttributeQuotes(t *testing.T) {
	root := &OpenStartElementNode{
		Name: "Data",
		Attributes: []*AttributeNode{
			{Name: "Name", Value: &ValueNode{Val: Variant{Type: VariantString, Str: `a"b`}}},
		},
	}
	got, err := RenderEvent(nil, []Node{root}, nil, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	want := `<Data Name="a&quot;b"/>`
	if got != want {
		t.Errorf("RenderEvent() got %q, want %q", got, want)
	}
}

func TestRenderEventWStringArrayJoinsWithComma(t *testing.T) {
	root := &OpenStartElementNode{
		Name:     "Data",
		Children: []Node{&NormalSubstitutionNode{Index: 0}},
	}
	subs := []Variant{{Type: VariantWStringArray, StrArray: []string{"a", "b", "c"}}}
	got, err := RenderEvent(nil, []Node{root}, subs, nil)
	if err != nil {
		t.Fatalf("RenderEvent() failed, reason: %v", err)
	}
	if got != "<Data>a, b, c</Data>" {
		t.Errorf("RenderEvent() got %q, want %q", got, "<Data>a, b, c</Data>")
	}
}

func TestFormatVariantFileTime(t *testing.T) {
	v := Variant{Type: VariantFileTime, Time: filetimeToTime(filetimeEpochDiff)}
	got := formatVariant(v)
	want := "1970-01-01T00:00:00Z"
	if got != want {
		t.Errorf("formatVariant() got %q, want %q", got, want)
	}
}

func TestFormatVariantBinary(t *testing.T) {
	v := Variant{Type: VariantBinary, Bytes: []byte{0xDE, 0xAD}}
	if got := formatVariant(v); got != "DEAD" {
		t.Errorf("formatVariant() got %q, want %q", got, "DEAD")
	}
}
