// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "time"

// SystemFields holds the well-known System/* attributes every EVTX
// record carries: provider identity, classification, and timing.
type SystemFields struct {
	Provider      string    `json:"provider"`
	ProviderGUID  string    `json:"provider_guid,omitempty"`
	EventID       uint32    `json:"event_id"`
	Version       uint8     `json:"version"`
	Level         uint8     `json:"level"`
	LevelName     string    `json:"level_name,omitempty"`
	Task          uint16    `json:"task"`
	Opcode        uint8     `json:"opcode"`
	Keywords      uint64    `json:"keywords"`
	TimeCreated   time.Time `json:"time_created"`
	RecordID      uint64    `json:"record_id"`
	ProcessID     uint32    `json:"process_id,omitempty"`
	ThreadID      uint32    `json:"thread_id,omitempty"`
	Channel       string    `json:"channel"`
	Computer      string    `json:"computer"`
	UserSID       string    `json:"user_sid,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventDataSource identifies which element the event's data fields
// were extracted from, per base spec §4.8.
type EventDataSource string

const (
	DataSourceEventData EventDataSource = "EventData"
	DataSourceUserData  EventDataSource = "UserData"
)

// EventData is the ordered field list pulled from an event's
// EventData or UserData element, per base spec §3.
type EventData struct {
	Source     EventDataSource  `json:"source,omitempty"`
	FieldCount int              `json:"field_count"`
	Items      []EventDataField `json:"items,omitempty"`
}

// ResolutionStatus is the terminal state of a message resolution
// attempt, per base spec §3 and the testable property in §8 item 7.
type ResolutionStatus string

const (
	StatusResolved   ResolutionStatus = "resolved"
	StatusFallback   ResolutionStatus = "fallback"
	StatusUnresolved ResolutionStatus = "unresolved"
)

// AttemptReason explains why a given provider-name attempt was or was
// not selected.
type AttemptReason string

const (
	ReasonAliasFallback AttemptReason = "alias-fallback"
	ReasonBestFit       AttemptReason = "best-fit"
	ReasonNoCandidates  AttemptReason = "no-candidates"
)

// MessageAttempt records one provider-name lookup the resolver made
// while walking the canonical-then-alias sequence in base spec §4.9.
type MessageAttempt struct {
	Provider       string        `json:"provider"`
	CandidateCount int           `json:"candidate_count"`
	Selected       bool          `json:"selected,omitempty"`
	Reason         AttemptReason `json:"reason,omitempty"`
}

// Fit describes how a selected template's placeholder count relates
// to the argument count actually supplied.
type Fit string

const (
	FitExact     Fit = "exact"
	FitUnderflow Fit = "underflow"
	FitOverflow  Fit = "overflow"
)

// MessageSelection records which template was chosen and how it
// scored against the event's layout, per base spec §4.9 step 2.
type MessageSelection struct {
	TemplateText string   `json:"template_text"`
	Placeholders int      `json:"placeholders"`
	Fit          Fit      `json:"fit"`
	ArgsUsed     int      `json:"args_used"`
	Args         []string `json:"args,omitempty"`
}

// MessageFinal is the resolver's terminal output message, tagging
// whether it came from a catalog template or the fallback builder.
type MessageFinal struct {
	Message string `json:"message"`
	From    string `json:"from"` // "template" | "fallback"
}

// MessageFallback records the provenance of a synthesized message
// when no catalog template resolved, per base spec §4.10.
type MessageFallback struct {
	BuiltFrom EventDataSource `json:"built_from,omitempty"`
	ItemCount int             `json:"item_count"`
	Message   string          `json:"message"`
}

// MessageResolution carries the outcome of resolving an event's
// human-readable message, including the diagnostics that explain why
// a particular candidate (or none) was chosen. Field population is
// gated by DiagnosticsLevel: none/basic/full, per base spec §4.9.
type MessageResolution struct {
	Status    ResolutionStatus  `json:"status"`
	Attempts  []MessageAttempt  `json:"attempts,omitempty"`
	Selection *MessageSelection `json:"selection,omitempty"`
	Final     *MessageFinal     `json:"final,omitempty"`
	Fallback  *MessageFallback  `json:"fallback,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
}

// Text returns the resolved message text regardless of whether it
// came from a template or the fallback builder, or "" if neither
// path produced one (Status == unresolved).
func (m MessageResolution) Text() string {
	if m.Final != nil {
		return m.Final.Message
	}
	return ""
}

// ResolvedEvent is one fully-assembled EVTX record: its system
// fields, its EventData/UserData field list, and its resolved
// message.
type ResolvedEvent struct {
	System   SystemFields       `json:"system"`
	Data     EventData          `json:"data"`
	Message  MessageResolution  `json:"message"`
	XML      string             `json:"xml,omitempty"`
	ChunkOff uint32             `json:"-"`
	RecOff   uint32             `json:"-"`
}
