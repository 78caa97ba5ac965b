// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"context"
	"testing"

	"github.com/saferwall/evtx/log"
)

type discardLogger struct{}

func (discardLogger) Log(level log.Level, keyvals ...interface{}) error { return nil }

// singleMessageCatalog implements Catalog only, backing the single
// best-effort template path (no Candidates capability).
type singleMessageCatalog struct {
	text string
	ok   bool
	err  error
}

func (c *singleMessageCatalog) Message(ctx context.Context, provider string, eventID uint32, locale string) (string, bool, error) {
	return c.text, c.ok, c.err
}

// multiCandidateCatalog implements candidatesCatalog, letting tests
// exercise the scoring path across several templates.
type multiCandidateCatalog struct {
	byProvider map[string][]MessageCandidate
}

func (c *multiCandidateCatalog) Message(ctx context.Context, provider string, eventID uint32, locale string) (string, bool, error) {
	cands := c.byProvider[provider]
	if len(cands) == 0 {
		return "", false, nil
	}
	return cands[0].Template, true, nil
}

func (c *multiCandidateCatalog) Candidates(ctx context.Context, provider string, eventID uint32, locale string) ([]MessageCandidate, error) {
	return c.byProvider[provider], nil
}

func TestMessageResolverDisabledAlwaysFallsBack(t *testing.T) {
	r := NewMessageResolver(&singleMessageCatalog{text: "should not be used", ok: true}, ResolverOptions{Disabled: true}, discardLogger{})
	sys := SystemFields{Provider: "Foo", EventID: 1}
	got, err := r.Resolve(context.Background(), sys, "", "", nil, []string{"x"})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusFallback {
		t.Errorf("Resolve() got Status=%q, want %q", got.Status, StatusFallback)
	}
	want := "Foo event 1: x"
	if got.Text() != want {
		t.Errorf("Resolve() got Text()=%q, want %q", got.Text(), want)
	}
}

func TestMessageResolverNilCatalogFallsBack(t *testing.T) {
	r := NewMessageResolver(nil, ResolverOptions{}, discardLogger{})
	sys := SystemFields{Provider: "Foo", EventID: 2}
	got, err := r.Resolve(context.Background(), sys, "", "", nil, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusFallback {
		t.Errorf("Resolve() got Status=%q, want %q", got.Status, StatusFallback)
	}
	if got.Text() != "Foo event 2" {
		t.Errorf("Resolve() got Text()=%q, want %q", got.Text(), "Foo event 2")
	}
}

func TestMessageResolverSingleCandidateSubstitutesPlaceholders(t *testing.T) {
	cat := &singleMessageCatalog{text: "User %1 logged on from %2", ok: true}
	r := NewMessageResolver(cat, ResolverOptions{}, discardLogger{})
	sys := SystemFields{Provider: "Foo", EventID: 4624}
	got, err := r.Resolve(context.Background(), sys, "", "", nil, []string{"alice", "10.0.0.1"})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusResolved {
		t.Fatalf("Resolve() got Status=%q, want %q", got.Status, StatusResolved)
	}
	want := "User alice logged on from 10.0.0.1"
	if got.Text() != want {
		t.Errorf("Resolve() got Text()=%q, want %q", got.Text(), want)
	}
	if got.Final.From != "template" {
		t.Errorf("Resolve() got Final.From=%q, want %q", got.Final.From, "template")
	}
}

func TestMessageResolverNoTemplateFoundFallsBackWithAttempts(t *testing.T) {
	cat := &singleMessageCatalog{ok: false}
	r := NewMessageResolver(cat, ResolverOptions{}, discardLogger{})
	sys := SystemFields{Provider: "Foo", EventID: 1}
	got, err := r.Resolve(context.Background(), sys, "", "", nil, nil)
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusFallback {
		t.Errorf("Resolve() got Status=%q, want %q", got.Status, StatusFallback)
	}
	if len(got.Attempts) == 0 || got.Attempts[0].Reason != ReasonNoCandidates {
		t.Errorf("Resolve() got Attempts=%+v, want one no-candidates attempt", got.Attempts)
	}
}

func TestMessageResolverAliasFallbackStripsPrefix(t *testing.T) {
	cat := &multiCandidateCatalog{byProvider: map[string][]MessageCandidate{
		"Kernel-General": {{Template: "tick %1", PlaceholderMax: 1}},
	}}
	r := NewMessageResolver(cat, ResolverOptions{EnableAliasLookup: true}, discardLogger{})
	sys := SystemFields{Provider: "Microsoft-Windows-Kernel-General", EventID: 1}
	got, err := r.Resolve(context.Background(), sys, "", "", nil, []string{"1"})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusResolved {
		t.Fatalf("Resolve() got Status=%q, want %q (alias lookup should have found a template)", got.Status, StatusResolved)
	}
	if got.Text() != "tick 1" {
		t.Errorf("Resolve() got Text()=%q, want %q", got.Text(), "tick 1")
	}
	last := got.Attempts[len(got.Attempts)-1]
	if !last.Selected || last.Reason != ReasonAliasFallback {
		t.Errorf("Resolve() got last attempt %+v, want selected alias-fallback", last)
	}
}

func TestMessageResolverAliasUsesEventSourceNameFirst(t *testing.T) {
	cat := &multiCandidateCatalog{byProvider: map[string][]MessageCandidate{
		"LegacyAlias": {{Template: "legacy %1", PlaceholderMax: 1}},
	}}
	r := NewMessageResolver(cat, ResolverOptions{EnableAliasLookup: true}, discardLogger{})
	sys := SystemFields{Provider: "SomeProvider", EventID: 1}
	got, err := r.Resolve(context.Background(), sys, "LegacyAlias", "", nil, []string{"1"})
	if err != nil {
		t.Fatalf("Resolve() returned error: %v", err)
	}
	if got.Status != StatusResolved || got.Text() != "legacy 1" {
		t.Errorf("Resolve() got %+v, want resolved template %q", got, "legacy 1")
	}
}

func TestMessageResolverRequiredStrategyPropagatesError(t *testing.T) {
	cat := &singleMessageCatalog{ok: false}
	r := NewMessageResolver(cat, ResolverOptions{Strategy: StrategyRequired}, discardLogger{})
	sys := SystemFields{Provider: "Foo", EventID: 1}
	_, err := r.Resolve(context.Background(), sys, "", "", nil, nil)
	if err == nil {
		t.Fatalf("Resolve() got nil error, want ErrMessageRequiredMissing")
	}
}

func TestPickBestCandidatePrefersLayoutCountMatch(t *testing.T) {
	candidates := []MessageCandidate{
		{Template: "a", PlaceholderMax: 1},
		{Template: "b", PlaceholderMax: 3},
		{Template: "c", PlaceholderMax: 4},
	}
	best, need, warn := pickBestCandidate(candidates, 3, 3)
	if best.Template != "b" || need != 3 {
		t.Errorf("pickBestCandidate() got %q/%d, want %q/3", best.Template, need, "b")
	}
	if warn != "" {
		t.Errorf("pickBestCandidate() got warning %q, want none for an exact match", warn)
	}
}

func TestPickBestCandidateSingleMismatchReturnsWarning(t *testing.T) {
	candidates := []MessageCandidate{{Template: "a", PlaceholderMax: 1}}
	best, _, warn := pickBestCandidate(candidates, 5, 5)
	if best.Template != "a" {
		t.Errorf("pickBestCandidate() got %q, want %q", best.Template, "a")
	}
	if warn == "" {
		t.Errorf("pickBestCandidate() got empty warning, want a mismatch diagnostic")
	}
}

func TestFormatMessageTemplateSubstitutesAndEscapesPercent(t *testing.T) {
	got := formatMessageTemplate("%1%% done, %2 remaining", []string{"50", "10"})
	want := "50% done, 10 remaining"
	if got != want {
		t.Errorf("formatMessageTemplate() got %q, want %q", got, want)
	}
}

func TestFormatMessageTemplateOutOfRangePlaceholderIsEmpty(t *testing.T) {
	got := formatMessageTemplate("value: %2", []string{"only-one"})
	if got != "value: " {
		t.Errorf("formatMessageTemplate() got %q, want %q", got, "value: ")
	}
}

func TestFormatMessageTemplateStripsFormatSpec(t *testing.T) {
	got := formatMessageTemplate("Count: %1!d!", []string{"42"})
	if got != "Count: 42" {
		t.Errorf("formatMessageTemplate() got %q, want %q", got, "Count: 42")
	}
}

func TestFormatMessageTemplateNewlineEscape(t *testing.T) {
	got := formatMessageTemplate("a%nb", nil)
	if got != "a\nb" {
		t.Errorf("formatMessageTemplate() got %q, want %q", got, "a\\nb")
	}
}

func TestFormatMessageTemplateZeroBasedBraces(t *testing.T) {
	got := formatMessageTemplate("{0} and {1}", []string{"first", "second"})
	if got != "first and second" {
		t.Errorf("formatMessageTemplate() got %q, want %q", got, "first and second")
	}
}

func TestCountPlaceholdersFindsMax(t *testing.T) {
	if got := countPlaceholders("%1 and %3 and %2"); got != 3 {
		t.Errorf("countPlaceholders() got %d, want 3", got)
	}
}

func TestAliasForProviderStripsKnownPrefix(t *testing.T) {
	if got := aliasForProvider("Microsoft-Windows-Kernel-General", ""); got != "Kernel-General" {
		t.Errorf("aliasForProvider() got %q, want %q", got, "Kernel-General")
	}
}

func TestAliasForProviderPrefersEventSourceName(t *testing.T) {
	if got := aliasForProvider("Microsoft-Windows-Kernel-General", "Custom"); got != "Custom" {
		t.Errorf("aliasForProvider() got %q, want %q", got, "Custom")
	}
}

func TestFallbackMessageJoinsNamedFieldsWithPipe(t *testing.T) {
	layout := []EventDataField{{Name: "A", Value: "x"}, {Name: "B", Value: "y"}}
	got := fallbackMessage(SystemFields{Provider: "Foo", EventID: 1}, layout, nil)
	want := "A=x | B=y"
	if got != want {
		t.Errorf("fallbackMessage() got %q, want %q", got, want)
	}
}

func TestFallbackMessageCapsAtTenEntries(t *testing.T) {
	layout := make([]EventDataField, 15)
	for i := range layout {
		layout[i] = EventDataField{Name: "F", Value: "v"}
	}
	got := fallbackMessage(SystemFields{}, layout, nil)
	want := ""
	for i := 0; i < 10; i++ {
		if i > 0 {
			want += " | "
		}
		want += "F=v"
	}
	if got != want {
		t.Errorf("fallbackMessage() got %q, want %q", got, want)
	}
}
