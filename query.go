// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"context"
	"time"
)

// Query is a thin fluent wrapper over StreamConfig, letting callers
// build a filtered stream without constructing the struct literal by
// hand.
type Query struct {
	file *File
	cfg  StreamConfig
}

// NewQuery starts a fluent query over f.
func NewQuery(f *File) *Query {
	return &Query{file: f}
}

// MinLevel restricts the query to events at least as severe as lvl.
func (q *Query) MinLevel(lvl uint8) *Query {
	q.cfg.MinLevel = lvl
	return q
}

// Provider restricts the query to the given provider names.
func (q *Query) Provider(names ...string) *Query {
	q.cfg.Providers = append(q.cfg.Providers, names...)
	return q
}

// EventID restricts the query to the given event IDs.
func (q *Query) EventID(ids ...uint32) *Query {
	q.cfg.EventIDs = append(q.cfg.EventIDs, ids...)
	return q
}

// IncludeInactiveChunks also walks chunks beyond the file header's
// declared chunk count.
func (q *Query) IncludeInactiveChunks() *Query {
	q.cfg.IncludeInactiveChunks = true
	return q
}

// Since restricts the query to events created at or after t.
func (q *Query) Since(t time.Time) *Query {
	q.cfg.Since = t
	return q
}

// Until restricts the query to events created at or before t.
func (q *Query) Until(t time.Time) *Query {
	q.cfg.Until = t
	return q
}

// Start restricts the query to records numbered n or higher.
func (q *Query) Start(n uint64) *Query {
	q.cfg.StartRecord = n
	return q
}

// Limit caps the number of events the query yields.
func (q *Query) Limit(n int) *Query {
	q.cfg.Limit = n
	return q
}

// Last restricts the query to (at most) the n most recently written
// records, derived from the file header's next_record_number rather
// than materializing and counting the whole stream.
func (q *Query) Last(n int) *Query {
	if n <= 0 {
		return q
	}
	next := q.file.header.NextRecordNumber
	start := uint64(0)
	if next > uint64(n) {
		start = next - uint64(n)
	}
	if start > q.cfg.StartRecord {
		q.cfg.StartRecord = start
	}
	return q
}

// Stream builds the EventStream for this query.
func (q *Query) Stream() *EventStream {
	return q.file.Events(q.cfg)
}

// Collect runs the query to completion.
func (q *Query) Collect(ctx context.Context) ([]*ResolvedEvent, error) {
	return q.Stream().Collect(ctx)
}
