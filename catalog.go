// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "context"

// MessageCandidate is one message template a Catalog offers for a
// given (provider, eventID, locale) lookup, together with enough
// metadata for the resolver to score it against an event's actual
// substitution layout.
type MessageCandidate struct {
	Template       string
	PlaceholderMax int
}

// Catalog resolves provider event message templates, typically
// backed by an on-disk or network message-table database built from
// provider manifests. Implementations are expected to be safe for
// concurrent use; every method takes a context so a slow backing
// store (a remote catalog service, a large memory-mapped table) can
// be cancelled by the caller.
type Catalog interface {
	// Message returns the best single template for provider/eventID
	// at locale, or false if the catalog has nothing for it.
	Message(ctx context.Context, provider string, eventID uint32, locale string) (string, bool, error)
}

// candidatesCatalog is an optional capability: a catalog that can
// return every known candidate template for an event, letting the
// resolver score across them (see resolver.go) rather than trust a
// single implementation-chosen best match.
type candidatesCatalog interface {
	Candidates(ctx context.Context, provider string, eventID uint32, locale string) ([]MessageCandidate, error)
}

// batchCatalog is an optional capability: a catalog that can resolve
// many lookups in one round trip, for callers streaming large numbers
// of events through the same provider.
type batchCatalog interface {
	MessageBatch(ctx context.Context, keys []CatalogKey) (map[CatalogKey]string, error)
}

// infoCatalog is an optional capability: a catalog that can report
// which locales and providers it has data for, without attempting a
// lookup.
type infoCatalog interface {
	Providers(ctx context.Context) ([]string, error)
	Locales(ctx context.Context, provider string) ([]string, error)
}

// closableCatalog is an optional capability: a catalog backed by a
// resource (file handle, network connection) that must be released
// when the caller is done with it.
type closableCatalog interface {
	Close() error
}

// CatalogKey identifies one message lookup for batchCatalog.
type CatalogKey struct {
	Provider string
	EventID  uint32
	Locale   string
}

// closeCatalog releases a catalog's resources if it implements
// closableCatalog, otherwise it is a no-op.
func closeCatalog(c Catalog) error {
	if cc, ok := c.(closableCatalog); ok {
		return cc.Close()
	}
	return nil
}
