// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"strconv"
	"strings"
)

// EventDataField is one named value pulled out of an EventData or
// UserData element, in document order.
type EventDataField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// extractLayout walks a record's rendered node tree looking for its
// EventData or UserData element and returns the ordered list of
// fields beneath it. Both element shapes are supported: EventData's
// conventional <Data Name="x">value</Data> children, and UserData's
// single provider-defined wrapper element, whose own direct children
// become entries named after themselves.
func extractLayout(chunk *ChunkHeader, roots []Node, subs []Variant, warn func(string)) ([]EventDataField, error) {
	var fields []EventDataField
	var walk func(n Node) error
	anonymousIndex := 0

	var collectLeaf func(el *OpenStartElementNode, name string) error
	collectLeaf = func(el *OpenStartElementNode, name string) error {
		value, err := renderElementText(chunk, subs, el, warn)
		if err != nil {
			return err
		}
		fields = append(fields, EventDataField{Name: name, Value: value})
		return nil
	}

	walk = func(n Node) error {
		el, ok := n.(*OpenStartElementNode)
		if !ok {
			return nil
		}
		switch el.Name {
		case "EventData":
			for _, child := range el.Children {
				ce, ok := child.(*OpenStartElementNode)
				if !ok || ce.Name != "Data" {
					continue
				}
				name := attrValue(ce, "Name")
				if name == "" {
					name = "Data" + indexSuffix(anonymousIndex)
					anonymousIndex++
				}
				if err := collectLeaf(ce, name); err != nil {
					return err
				}
			}
			return nil
		case "UserData":
			wrapper := firstElementChild(el)
			if wrapper == nil {
				return nil
			}
			for _, child := range wrapper.Children {
				ce, ok := child.(*OpenStartElementNode)
				if !ok {
					continue
				}
				if err := collectLeaf(ce, ce.Name); err != nil {
					return err
				}
			}
			return nil
		}
		for _, child := range el.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, n := range roots {
		if err := walk(n); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

// firstElementChild returns el's first element-typed child, or nil if
// it has none. UserData carries exactly one provider-defined wrapper
// element (e.g. an EventXML-schema type); its direct children are the
// event's named fields.
func firstElementChild(el *OpenStartElementNode) *OpenStartElementNode {
	for _, child := range el.Children {
		if ce, ok := child.(*OpenStartElementNode); ok {
			return ce
		}
	}
	return nil
}

func renderElementText(chunk *ChunkHeader, subs []Variant, el *OpenStartElementNode, warn func(string)) (string, error) {
	var b strings.Builder
	r := &Renderer{chunk: chunk, subs: subs, warn: warn}
	var walk func(el *OpenStartElementNode) error
	walk = func(el *OpenStartElementNode) error {
		for _, child := range el.Children {
			if ce, ok := child.(*OpenStartElementNode); ok {
				if err := walk(ce); err != nil {
					return err
				}
				continue
			}
			if err := r.renderNode(&b, child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(el); err != nil {
		return "", err
	}
	return b.String(), nil
}

func attrValue(el *OpenStartElementNode, name string) string {
	for _, a := range el.Attributes {
		if a.Name == name {
			var b strings.Builder
			r := &Renderer{}
			if err := r.renderNode(&b, a.Value); err == nil {
				return b.String()
			}
		}
	}
	return ""
}

func indexSuffix(i int) string {
	if i == 0 {
		return ""
	}
	return strconv.Itoa(i)
}

// buildArgsFromLayout flattens every substitution value reachable
// from the template root, in document order. An embedded BXml
// substitution contributes a single argument, its rendered XML; the
// values inside it are not expanded into arguments of their own.
// This backs provider
// message formatting, whose %1, %2, ... placeholders index by
// position rather than by EventData field name.
func buildArgsFromLayout(chunk *ChunkHeader, roots []Node, subs []Variant, warn func(string)) ([]string, error) {
	var args []string
	var walk func(n Node) error
	walk = func(n Node) error {
		switch v := n.(type) {
		case *OpenStartElementNode:
			for _, a := range v.Attributes {
				if err := walk(a.Value); err != nil {
					return err
				}
			}
			for _, c := range v.Children {
				if err := walk(c); err != nil {
					return err
				}
			}
		case *NormalSubstitutionNode:
			return appendSubstitutionArg(chunk, subs, int(v.Index), &args, warn)
		case *OptionalSubstitutionNode:
			return appendSubstitutionArg(chunk, subs, int(v.Index), &args, warn)
		}
		return nil
	}
	for _, n := range roots {
		if err := walk(n); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func appendSubstitutionArg(chunk *ChunkHeader, subs []Variant, index int, args *[]string, warn func(string)) error {
	if index < 0 || index >= len(subs) {
		return nil
	}
	v := subs[index]
	if v.IsNull {
		*args = append(*args, "")
		return nil
	}
	if v.Type == VariantEvtXML {
		r := &Renderer{chunk: chunk, subs: subs, warn: warn}
		text, err := r.renderEmbeddedBXml(v)
		if err != nil {
			return err
		}
		*args = append(*args, text)
		return nil
	}
	if v.Type == VariantWStringArray {
		*args = append(*args, v.StrArray...)
		return nil
	}
	*args = append(*args, formatVariant(v))
	return nil
}
