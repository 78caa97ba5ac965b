// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build gofuzz

package evtx

import "context"

// Fuzz is the go-fuzz entry point: it opens data as an EVTX file and
// drains every event, discarding the result. It returns 1 when data
// parsed as a valid-looking file worth keeping in the corpus, 0
// otherwise, matching the go-fuzz convention.
func Fuzz(data []byte) int {
	f, err := OpenBytes(data, Options{})
	if err != nil {
		return 0
	}
	defer f.Close()

	stream := f.Events(StreamConfig{IncludeInactiveChunks: true})
	ctx := context.Background()
	n := 0
	for {
		_, ok, err := stream.Next(ctx)
		if err != nil {
			return 0
		}
		if !ok {
			break
		}
		n++
	}
	if n == 0 {
		return 0
	}
	return 1
}
