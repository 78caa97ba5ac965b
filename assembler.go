// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edsrzf/mmap-go"

	"github.com/saferwall/evtx/log"
)

var levelNames = map[uint8]string{
	0: "LogAlways",
	1: "Critical",
	2: "Error",
	3: "Warning",
	4: "Information",
	5: "Verbose",
}

// DataItemsLevel caps how many EventData/UserData items are retained
// on a ResolvedEvent, per base spec §6's include_data_items option.
type DataItemsLevel string

const (
	DataItemsNone    DataItemsLevel = "none"
	DataItemsSummary DataItemsLevel = "summary"
	DataItemsFull    DataItemsLevel = "full"
)

const summaryDataItemsCap = 10

// Options configures how a File resolves and renders its events.
type Options struct {
	// Catalog resolves provider message templates. Nil disables
	// message resolution (Resolve always falls back).
	Catalog Catalog
	// Resolver tunes message resolution behavior.
	Resolver ResolverOptions
	// Logger receives structural warnings encountered while parsing
	// (unknown tokens/variants, CRC mismatches on individual chunks,
	// substitution header corrections). Nil discards them.
	Logger log.Logger
	// IncludeXML populates ResolvedEvent.XML with the rendered
	// document in addition to the structured fields. Off by default
	// since most callers only need the structured view.
	IncludeXML bool
	// IncludeDataItems caps data.items: none (0), summary (<=10), or
	// full (unbounded). Defaults to DataItemsFull.
	IncludeDataItems DataItemsLevel
	// MaxFileSize rejects files larger than this many bytes with
	// ErrFileTooLarge before any parsing begins. Zero selects the
	// default of 100 MiB; a negative value disables the check.
	MaxFileSize int64
}

// defaultMaxFileSize is the base spec §5 default: files larger than
// 100 MiB are rejected unless Options.MaxFileSize overrides it.
const defaultMaxFileSize int64 = 100 * 1024 * 1024

// File is a parsed EVTX file: its header plus on-demand access to
// each chunk's records. Open it with Open or OpenBytes and release it
// with Close when done.
type File struct {
	data     []byte
	mm       mmap.MMap
	header   *FileHeader
	opts     Options
	log      *log.Helper
	warn     func(string)
	resolver *MessageResolver
}

// Open memory-maps path and parses its file header.
func Open(path string, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if err := checkMaxFileSize(fi.Size(), opts.MaxFileSize); err != nil {
		return nil, err
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	file, err := newFile([]byte(m), opts)
	if err != nil {
		m.Unmap()
		return nil, err
	}
	file.mm = m
	return file, nil
}

// checkMaxFileSize enforces Options.MaxFileSize (default 100 MiB,
// disabled when negative) against a file's size in bytes, per base
// spec §5.
func checkMaxFileSize(size, limit int64) error {
	if limit == 0 {
		limit = defaultMaxFileSize
	}
	if limit < 0 {
		return nil
	}
	if size > limit {
		return ErrFileTooLarge
	}
	return nil
}

// OpenBytes parses an EVTX file already resident in memory. The
// caller retains ownership of data; File never mutates it.
func OpenBytes(data []byte, opts Options) (*File, error) {
	return newFile(data, opts)
}

func newFile(data []byte, opts Options) (*File, error) {
	if err := checkMaxFileSize(int64(len(data)), opts.MaxFileSize); err != nil {
		return nil, err
	}
	if len(data) < FileHeaderSize {
		return nil, ErrInvalidHeader
	}
	header, err := parseFileHeader(data[:FileHeaderSize])
	if err != nil {
		return nil, err
	}
	if opts.IncludeDataItems == "" {
		opts.IncludeDataItems = DataItemsFull
	}
	helper := log.NewHelper(opts.Logger)
	file := &File{
		data:     data,
		header:   header,
		opts:     opts,
		log:      helper,
		resolver: NewMessageResolver(opts.Catalog, opts.Resolver, opts.Logger),
	}
	file.warn = func(msg string) { file.log.Warnf("%s", msg) }
	return file, nil
}

// Close unmaps the file if it was opened with Open. For files built
// with OpenBytes it instead closes Options.Catalog, if that catalog
// has a Close method.
func (f *File) Close() error {
	if f.mm != nil {
		return f.mm.Unmap()
	}
	return closeCatalog(f.opts.Catalog)
}

// Header returns the parsed file header.
func (f *File) Header() *FileHeader { return f.header }

// StreamConfig filters which events Events yields.
type StreamConfig struct {
	// IncludeInactiveChunks also walks chunks beyond the header's
	// declared ChunkCount, recovering records from a chunk marked
	// free but not yet overwritten.
	IncludeInactiveChunks bool
	// MinLevel, if non-zero, drops events whose level is numerically
	// greater (i.e. less severe) than MinLevel. Windows levels run
	// 1 (Critical) through 5 (Verbose); 0 means "no filter".
	MinLevel uint8
	// Providers, if non-empty, restricts output to these provider
	// names.
	Providers []string
	// EventIDs, if non-empty, restricts output to these event IDs.
	EventIDs []uint32
	// Since and Until, if non-zero, bound TimeCreated inclusively.
	Since time.Time
	Until time.Time
	// StartRecord, if non-zero, skips every record numbered below it.
	// Last on Query derives this from the file header's
	// next_record_number rather than materializing the whole stream.
	StartRecord uint64
	// Limit caps the number of events yielded; 0 means unbounded.
	Limit int
}

func (c StreamConfig) accepts(sys SystemFields) bool {
	if c.MinLevel != 0 && sys.Level != 0 && sys.Level > c.MinLevel {
		return false
	}
	if len(c.Providers) > 0 {
		ok := false
		for _, p := range c.Providers {
			if strings.EqualFold(p, sys.Provider) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(c.EventIDs) > 0 {
		ok := false
		for _, id := range c.EventIDs {
			if id == sys.EventID {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if c.StartRecord != 0 && sys.RecordID < c.StartRecord {
		return false
	}
	if !c.Since.IsZero() && sys.TimeCreated.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && sys.TimeCreated.After(c.Until) {
		return false
	}
	return true
}

// EventStream pulls resolved events one at a time across every chunk
// in the file, in file order. It never parses ahead of what Next
// consumes, so memory stays proportional to one chunk at a time.
type EventStream struct {
	file         *File
	cfg          StreamConfig
	chunkOffsets []uint32
	chunkIdx     int
	curChunk     *ChunkHeader
	recOffsets   []uint32
	recIdx       int
	yielded      int
}

// Events returns a fresh EventStream over f filtered by cfg.
func (f *File) Events(cfg StreamConfig) *EventStream {
	return &EventStream{
		file:         f,
		cfg:          cfg,
		chunkOffsets: f.header.chunkOffsets(len(f.data), cfg.IncludeInactiveChunks),
	}
}

// Next advances the stream and returns the next event that passes the
// stream's filters, or ok=false once the file is exhausted. A
// structural error on one record, or a chunk that fails to parse
// (including a header or data CRC mismatch), is logged and skipped
// rather than failing the whole stream; Next only returns an error
// once ctx is done.
func (s *EventStream) Next(ctx context.Context) (*ResolvedEvent, bool, error) {
	if s.cfg.Limit > 0 && s.yielded >= s.cfg.Limit {
		return nil, false, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if s.curChunk == nil {
			if s.chunkIdx >= len(s.chunkOffsets) {
				return nil, false, nil
			}
			off := s.chunkOffsets[s.chunkIdx]
			s.chunkIdx++
			chunk, err := parseChunkHeader(s.file.data, off, s.file.warn)
			if err != nil {
				s.file.log.Warnf("skipping chunk at offset %d: %v", off, err)
				continue
			}
			s.curChunk = chunk
			s.recOffsets = chunk.records()
			s.recIdx = 0
		}

		if s.recIdx >= len(s.recOffsets) {
			s.curChunk = nil
			continue
		}
		recOff := s.recOffsets[s.recIdx]
		s.recIdx++

		ev, err := s.file.resolveRecord(ctx, s.curChunk, recOff)
		if err != nil {
			s.file.log.Warnf("skipping record at chunk offset %d: %v", recOff, err)
			continue
		}
		if ev == nil || !s.cfg.accepts(ev.System) {
			continue
		}
		s.yielded++
		return ev, true, nil
	}
}

// Collect drains the stream into a slice. Intended for small files or
// tests; large files should use Next directly to bound memory use.
func (s *EventStream) Collect(ctx context.Context) ([]*ResolvedEvent, error) {
	var out []*ResolvedEvent
	for {
		ev, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, ev)
	}
}

func (f *File) resolveRecord(ctx context.Context, chunk *ChunkHeader, recOff uint32) (*ResolvedEvent, error) {
	rec, err := parseRecord(chunk.Data, recOff)
	if err != nil {
		return nil, err
	}
	def, subs, err := resolveRecordSubstitutions(chunk, rec, f.warn)
	if err != nil {
		return nil, err
	}
	root, err := def.parsedRoot(chunk, f.warn)
	if err != nil {
		return nil, err
	}

	sys, eventSourceName, err := extractSystemFields(chunk, root, subs, f.warn)
	if err != nil {
		return nil, err
	}
	sys.RecordID = rec.RecordNumber
	if sys.TimeCreated.IsZero() {
		sys.TimeCreated = rec.Timestamp
	}
	sys.LevelName = levelNames[sys.Level]

	fields, err := extractLayout(chunk, root, subs, f.warn)
	if err != nil {
		return nil, err
	}
	args, err := buildArgsFromLayout(chunk, root, subs, f.warn)
	if err != nil {
		return nil, err
	}

	data := EventData{Source: detectDataSource(root), FieldCount: len(fields), Items: capDataItems(fields, f.opts.IncludeDataItems)}

	msg, err := f.resolver.Resolve(ctx, sys, eventSourceName, data.Source, fields, args)
	if err != nil {
		return nil, err
	}

	ev := &ResolvedEvent{
		System:   sys,
		Data:     data,
		Message:  msg,
		ChunkOff: chunk.FileOffset,
		RecOff:   recOff,
	}
	if f.opts.IncludeXML {
		xml, err := RenderEvent(chunk, root, subs, f.warn)
		if err != nil {
			f.log.Warnf("render failed for record %d: %v", rec.RecordNumber, err)
		} else {
			ev.XML = xml
		}
	}
	return ev, nil
}

// detectDataSource reports which element (if either) an event's data
// fields came from, per base spec §4.8 step 1 vs. step 2.
func detectDataSource(roots []Node) EventDataSource {
	if findElement(roots, "EventData") != nil {
		return DataSourceEventData
	}
	if findElement(roots, "UserData") != nil {
		return DataSourceUserData
	}
	return ""
}

// capDataItems applies the include_data_items cap from base spec §6:
// none drops all items, summary caps at 10, full keeps everything.
func capDataItems(fields []EventDataField, level DataItemsLevel) []EventDataField {
	switch level {
	case DataItemsNone:
		return nil
	case DataItemsSummary:
		if len(fields) > summaryDataItemsCap {
			return fields[:summaryDataItemsCap]
		}
		return fields
	default:
		return fields
	}
}

// extractSystemFields reads the record's <System> element into a
// SystemFields value, returning the provider's EventSourceName
// attribute too (classic, non-manifest providers register their
// message table under that name rather than the provider's own).
func extractSystemFields(chunk *ChunkHeader, roots []Node, subs []Variant, warn func(string)) (SystemFields, string, error) {
	var sys SystemFields
	sysEl := findElement(roots, "System")
	if sysEl == nil {
		return sys, "", nil
	}

	if p := findChild(sysEl, "Provider"); p != nil {
		sys.Provider = attrValue(p, "Name")
		sys.ProviderGUID = attrValue(p, "Guid")
		return extractRemainingSystemFields(chunk, subs, sysEl, sys, attrValue(p, "EventSourceName"), warn)
	}
	return extractRemainingSystemFields(chunk, subs, sysEl, sys, "", warn)
}

func extractRemainingSystemFields(chunk *ChunkHeader, subs []Variant, sysEl *OpenStartElementNode, sys SystemFields, eventSourceName string, warn func(string)) (SystemFields, string, error) {
	if e := findChild(sysEl, "EventID"); e != nil {
		text, err := renderElementText(chunk, subs, e, warn)
		if err != nil {
			return sys, eventSourceName, err
		}
		sys.EventID = uint32(parseUintSafe(text))
	}
	sys.Version = uint8(parseUintSafe(textOf(chunk, subs, sysEl, "Version", warn)))
	sys.Level = uint8(parseUintSafe(textOf(chunk, subs, sysEl, "Level", warn)))
	sys.Task = uint16(parseUintSafe(textOf(chunk, subs, sysEl, "Task", warn)))
	sys.Opcode = uint8(parseUintSafe(textOf(chunk, subs, sysEl, "Opcode", warn)))
	sys.Keywords = parseHexOrUintSafe(textOf(chunk, subs, sysEl, "Keywords", warn))
	sys.Channel = textOf(chunk, subs, sysEl, "Channel", warn)
	sys.Computer = textOf(chunk, subs, sysEl, "Computer", warn)

	if tc := findChild(sysEl, "TimeCreated"); tc != nil {
		sys.TimeCreated = parseTimeAttr(attrValue(tc, "SystemTime"))
	}
	if er := findChild(sysEl, "EventRecordID"); er != nil {
		text, err := renderElementText(chunk, subs, er, warn)
		if err == nil {
			sys.RecordID = parseUintSafe(text)
		}
	}
	if ex := findChild(sysEl, "Execution"); ex != nil {
		sys.ProcessID = uint32(parseUintSafe(attrValue(ex, "ProcessID")))
		sys.ThreadID = uint32(parseUintSafe(attrValue(ex, "ThreadID")))
	}
	if sec := findChild(sysEl, "Security"); sec != nil {
		sys.UserSID = attrValue(sec, "UserID")
	}
	if corr := findChild(sysEl, "Correlation"); corr != nil {
		sys.CorrelationID = attrValue(corr, "ActivityID")
	}
	return sys, eventSourceName, nil
}

func textOf(chunk *ChunkHeader, subs []Variant, parent *OpenStartElementNode, name string, warn func(string)) string {
	child := findChild(parent, name)
	if child == nil {
		return ""
	}
	text, err := renderElementText(chunk, subs, child, warn)
	if err != nil {
		return ""
	}
	return text
}

func findElement(roots []Node, name string) *OpenStartElementNode {
	for _, n := range roots {
		if found := findElementIn(n, name); found != nil {
			return found
		}
	}
	return nil
}

func findElementIn(n Node, name string) *OpenStartElementNode {
	el, ok := n.(*OpenStartElementNode)
	if !ok {
		return nil
	}
	if el.Name == name {
		return el
	}
	for _, c := range el.Children {
		if found := findElementIn(c, name); found != nil {
			return found
		}
	}
	return nil
}

func findChild(el *OpenStartElementNode, name string) *OpenStartElementNode {
	for _, c := range el.Children {
		if ce, ok := c.(*OpenStartElementNode); ok && ce.Name == name {
			return ce
		}
	}
	return nil
}

func parseUintSafe(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseHexOrUintSafe(s string) uint64 {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err == nil {
			return v
		}
		return 0
	}
	return parseUintSafe(s)
}

// systemTimeLayouts are the XML SystemTime representations observed
// across EVTX versions, most precise first.
var systemTimeLayouts = []string{
	"2006-01-02T15:04:05.9999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimeAttr(s string) time.Time {
	for _, layout := range systemTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
