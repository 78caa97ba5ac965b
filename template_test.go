// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "testing"

func TestParseTemplateDefinitionHeaderAndTemplateID(t *testing.T) {
	chunk := newTestChunk()
	const offset = uint32(0x300)
	data := []byte{tokEndOfStream}
	writeTemplateDefinition(chunk.Data, offset, 0x400, 0xAABBCCDD, data)

	def, err := parseTemplateDefinition(chunk, offset)
	if err != nil {
		t.Fatalf("parseTemplateDefinition() failed, reason: %v", err)
	}
	if def.NextOffset != 0x400 {
		t.Errorf("NextOffset got 0x%x, want 0x400", def.NextOffset)
	}
	if def.TemplateID != 0xAABBCCDD {
		t.Errorf("TemplateID got 0x%x, want 0xAABBCCDD", def.TemplateID)
	}
	if def.DataLength != uint32(len(data)) {
		t.Errorf("DataLength got %d, want %d", def.DataLength, len(data))
	}
	if len(def.Data) != 1 || def.Data[0] != tokEndOfStream {
		t.Errorf("Data got %v, want %v", def.Data, data)
	}
}

func TestTemplateDefinitionParsedRootParsesAndCaches(t *testing.T) {
	chunk := newTestChunk()
	const offset = uint32(0x300)

	// Data payload: a flat OpenStartElement (no attrs, no children) then EndOfStream.
	buf := chunk.Data
	bodyStart := offset + templateHeaderSize
	pos := bodyStart
	buf[pos] = tokOpenStartElement
	pos++
	pos += 2 // unknown0
	sizeAt := pos
	pos += 4
	nameOffsetAt := pos
	pos += 4
	nameOffset := pos
	putU32(buf, nameOffsetAt, nameOffset)
	nameLen := writeInlineName(buf, nameOffset, "Foo")
	pos = nameOffset + nameLen
	contentStart := pos
	buf[pos] = tokCloseEmptyElement
	pos++
	putU32(buf, sizeAt, pos-contentStart)
	buf[pos] = tokEndOfStream
	pos++

	data := make([]byte, pos-bodyStart)
	copy(data, buf[bodyStart:pos])
	writeTemplateDefinition(buf, offset, 0, 1, data)

	def, err := parseTemplateDefinition(chunk, offset)
	if err != nil {
		t.Fatalf("parseTemplateDefinition() failed, reason: %v", err)
	}
	chunk.templateTable[offset] = def

	root, err := def.parsedRoot(chunk, nil)
	if err != nil {
		t.Fatalf("parsedRoot() failed, reason: %v", err)
	}
	if len(root) != 1 {
		t.Fatalf("parsedRoot() got %d nodes, want 1", len(root))
	}
	el, ok := root[0].(*OpenStartElementNode)
	if !ok {
		t.Fatalf("got %T, want *OpenStartElementNode", root[0])
	}
	if el.Name != "Foo" {
		t.Errorf("Name got %q, want %q", el.Name, "Foo")
	}

	// Second call must return the cached tree, not reparse.
	root2, err := def.parsedRoot(chunk, nil)
	if err != nil {
		t.Fatalf("parsedRoot() second call failed, reason: %v", err)
	}
	if len(root2) != 1 || root2[0] != root[0] {
		t.Errorf("parsedRoot() second call got a different tree, want the cached one")
	}
}

func TestTemplateDefinitionParsedRootEmptyDataCachesConsistently(t *testing.T) {
	chunk := newTestChunk()
	const offset = uint32(0x300)
	def := &TemplateDefinition{Offset: offset, DataLength: 0}

	root1, err1 := def.parsedRoot(chunk, nil)
	root2, err2 := def.parsedRoot(chunk, nil)
	if err1 != err2 {
		t.Errorf("parsedRoot() errors differ across calls: %v vs %v", err1, err2)
	}
	if len(root1) != 0 || len(root2) != 0 {
		t.Errorf("parsedRoot() got %v / %v, want empty children for a zero-length definition", root1, root2)
	}
}
