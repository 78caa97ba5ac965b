// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"encoding/json"
	"io"
)

// ChunkIndexEntry summarizes one chunk for FileIndex.
type ChunkIndexEntry struct {
	Offset            uint32 `json:"offset"`
	FileFirstRecord   uint64 `json:"file_first_record"`
	FileLastRecord    uint64 `json:"file_last_record"`
	RecordCount       int    `json:"record_count"`
	HeaderCRCValid    bool   `json:"header_crc_valid"`
}

// FileIndex is an advisory, out-of-band summary of a file's chunk
// layout, useful for quickly gauging a file's shape (record counts,
// damaged chunks) without resolving every event. It is never required
// to read a file; WriteIndex is a convenience for tooling.
type FileIndex struct {
	ChunkCount int               `json:"chunk_count"`
	Chunks     []ChunkIndexEntry `json:"chunks"`
}

// WriteIndex writes a JSON FileIndex for f to w.
func (f *File) WriteIndex(w io.Writer) error {
	idx := FileIndex{}
	offsets := f.header.chunkOffsets(len(f.data), true)
	for _, off := range offsets {
		entry := ChunkIndexEntry{Offset: off}
		chunk, err := parseChunkHeader(f.data, off, f.warn)
		if err != nil {
			idx.Chunks = append(idx.Chunks, entry)
			continue
		}
		entry.HeaderCRCValid = true
		entry.FileFirstRecord = chunk.FileFirstRecordNumber
		entry.FileLastRecord = chunk.FileLastRecordNumber
		entry.RecordCount = len(chunk.records())
		idx.Chunks = append(idx.Chunks, entry)
	}
	idx.ChunkCount = len(idx.Chunks)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(idx)
}
