// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "errors"

// Sentinel errors returned by the framing and parsing layers. Every
// recoverable condition described in the error-handling table is one
// of these, so callers can branch on identity with errors.Is.
var (
	// ErrFileTooLarge is returned when a file exceeds the configured
	// maximum size (100 MiB by default).
	ErrFileTooLarge = errors.New("evtx: file exceeds maximum allowed size")

	// ErrInvalidHeader is returned when the file header magic,
	// version, or checksum does not verify. Fatal for the file.
	ErrInvalidHeader = errors.New("evtx: invalid file header")

	// ErrInvalidChunk is returned when a chunk header's magic or CRCs
	// do not verify. The chunk is skipped, not the whole file.
	ErrInvalidChunk = errors.New("evtx: invalid chunk header")

	// ErrInvalidRecord is returned when a record's magic or size is
	// invalid. The record, and the rest of its chunk, are skipped.
	ErrInvalidRecord = errors.New("evtx: invalid record")

	// ErrRecordSizeMismatch is returned when a record's leading and
	// trailing size fields disagree.
	ErrRecordSizeMismatch = errors.New("evtx: record leading/trailing size mismatch")

	// ErrOutOfBounds is returned by any cursor read that would run
	// past the end of the backing slab.
	ErrOutOfBounds = errors.New("evtx: read out of bounds")

	// ErrUnknownVariant is recorded as a warning when a variant type
	// code is not recognized; the decoder still advances by the
	// declared size.
	ErrUnknownVariant = errors.New("evtx: unknown variant type")

	// ErrUnknownToken is recorded as a warning when a BXML token byte
	// is not one of the 17 recognized kinds.
	ErrUnknownToken = errors.New("evtx: unknown BXML token")

	// ErrTemplateMissing is recorded when a template instance refers
	// to an offset that cannot be resolved to a cached definition.
	ErrTemplateMissing = errors.New("evtx: template definition not found")

	// ErrSubstitutionHeaderInvalid is recorded when the substitution
	// count or declared sizes fail sanity bounds.
	ErrSubstitutionHeaderInvalid = errors.New("evtx: substitution header failed sanity check")

	// ErrMessageRequiredMissing is returned when message_strategy is
	// "required" and no template could be resolved for an event.
	ErrMessageRequiredMissing = errors.New("evtx: no message template resolved for required strategy")
)

// CatalogError wraps an error returned by a Catalog collaborator so
// that callers can distinguish resolution failures that originate
// outside the library.
type CatalogError struct {
	Provider string
	Err      error
}

func (e *CatalogError) Error() string {
	return "evtx: catalog error for provider " + e.Provider + ": " + e.Err.Error()
}

// Unwrap exposes the underlying catalog error.
func (e *CatalogError) Unwrap() error {
	return e.Err
}
