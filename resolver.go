// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/saferwall/evtx/log"
)

// DiagnosticsLevel gates how much of a MessageResolution's diagnostic
// detail is retained, per base spec §4.9.
type DiagnosticsLevel string

const (
	DiagnosticsNone  DiagnosticsLevel = "none"
	DiagnosticsBasic DiagnosticsLevel = "basic"
	DiagnosticsFull  DiagnosticsLevel = "full"
)

// MessageStrategy is the resolver's escalation policy when no
// template matches, per base spec §4.9.
type MessageStrategy string

const (
	StrategyNone        MessageStrategy = "none"
	StrategyBestEffort   MessageStrategy = "best-effort"
	StrategyRequired     MessageStrategy = "required"
)

// ResolverOptions configures how a message is resolved and how much
// of the diagnostic lifecycle is retained.
type ResolverOptions struct {
	// Locale is the preferred message locale, e.g. "en-US". Empty
	// defaults to "en-US".
	Locale string
	// Disabled skips catalog lookups entirely; Resolve always returns
	// the fallback message with Status=fallback. Equivalent to
	// Strategy=StrategyNone.
	Disabled bool
	// EnableAliasLookup tries a provider alias (EventSourceName or
	// the Microsoft-Windows- prefix stripped) after the canonical
	// provider name yields no candidates.
	EnableAliasLookup bool
	// CandidateLimit caps how many candidates are considered per
	// provider-name attempt. Zero means unlimited.
	CandidateLimit int
	// Diagnostics controls how much of the resolution lifecycle is
	// retained on the result. Defaults to DiagnosticsBasic.
	Diagnostics DiagnosticsLevel
	// Strategy controls what happens when no template resolves.
	// Defaults to StrategyBestEffort.
	Strategy MessageStrategy
}

// MessageResolver resolves an event's human-readable message from a
// Catalog, scoring multiple candidates by how well their placeholder
// count matches the event's actual argument count, and falling back
// to a provider alias or a synthesized message when nothing matches.
type MessageResolver struct {
	catalog Catalog
	opts    ResolverOptions
	log     *log.Helper
}

// NewMessageResolver builds a resolver over catalog. catalog may be
// nil, in which case Resolve always returns the fallback message.
func NewMessageResolver(catalog Catalog, opts ResolverOptions, logger log.Logger) *MessageResolver {
	if opts.Locale == "" {
		opts.Locale = "en-US"
	}
	if opts.Diagnostics == "" {
		opts.Diagnostics = DiagnosticsBasic
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyBestEffort
	}
	if opts.Disabled {
		opts.Strategy = StrategyNone
	}
	return &MessageResolver{catalog: catalog, opts: opts, log: log.NewHelper(logger)}
}

// Resolve produces the message for sys given the record's flattened,
// document-order substitution arguments and its EventData/UserData
// layout (consulted for provider-specific name-driven reordering and
// for the fallback builder). It returns ErrMessageRequiredMissing
// when Strategy is StrategyRequired and no template could be found.
func (m *MessageResolver) Resolve(ctx context.Context, sys SystemFields, eventSourceName string, source EventDataSource, layout []EventDataField, args []string) (MessageResolution, error) {
	reordered := reorderArgs(sys.Provider, sys.EventID, layout, args)

	if m.opts.Strategy == StrategyNone || m.catalog == nil {
		res := m.buildFallback(sys, source, layout, reordered, nil)
		return res, nil
	}

	var attempts []MessageAttempt
	var errs []string

	names := []struct {
		name   string
		reason AttemptReason
	}{{sys.Provider, ReasonBestFit}}
	if m.opts.EnableAliasLookup {
		alias := aliasForProvider(sys.Provider, eventSourceName)
		if alias != sys.Provider {
			names = append(names, struct {
				name   string
				reason AttemptReason
			}{alias, ReasonAliasFallback})
		}
	}

	var chosen []MessageCandidate
	var chosenAttemptIdx = -1
	for i, n := range names {
		candidates, err := m.fetchCandidates(ctx, n.name, sys.EventID)
		if err != nil {
			errs = append(errs, (&CatalogError{Provider: n.name, Err: err}).Error())
			m.log.Warnf("catalog lookup failed for %s/%d: %v", n.name, sys.EventID, err)
		}
		if m.opts.CandidateLimit > 0 && len(candidates) > m.opts.CandidateLimit {
			candidates = candidates[:m.opts.CandidateLimit]
		}
		att := MessageAttempt{Provider: n.name, CandidateCount: len(candidates)}
		if len(candidates) == 0 {
			att.Reason = ReasonNoCandidates
		}
		attempts = append(attempts, att)
		if len(candidates) > 0 {
			chosen = candidates
			chosenAttemptIdx = i
			break
		}
	}

	if chosenAttemptIdx == -1 {
		res := m.buildFallback(sys, source, layout, reordered, attempts)
		if m.opts.Diagnostics == DiagnosticsFull {
			res.Errors = errs
		}
		if m.opts.Strategy == StrategyRequired {
			return res, ErrMessageRequiredMissing
		}
		return res, nil
	}

	best, placeholders, fitWarning := pickBestCandidate(chosen, len(layout), len(reordered))
	finalArgs := padOrTruncate(reordered, placeholders)
	text := formatMessageTemplate(best.Template, finalArgs)

	fit := FitExact
	switch {
	case len(reordered) < placeholders:
		fit = FitUnderflow
	case len(reordered) > placeholders:
		fit = FitOverflow
	}

	attempts[chosenAttemptIdx].Selected = true
	attempts[chosenAttemptIdx].Reason = names[chosenAttemptIdx].reason

	res := MessageResolution{
		Status: StatusResolved,
		Final:  &MessageFinal{Message: text, From: "template"},
	}
	sel := &MessageSelection{
		TemplateText: best.Template,
		Placeholders: placeholders,
		Fit:          fit,
		ArgsUsed:     len(finalArgs),
	}
	var warnings []string
	if fitWarning != "" {
		warnings = append(warnings, fitWarning)
	}

	switch m.opts.Diagnostics {
	case DiagnosticsNone:
		return MessageResolution{Status: StatusResolved, Final: res.Final}, nil
	case DiagnosticsFull:
		sel.Args = finalArgs
		res.Attempts = attempts
		res.Selection = sel
		res.Warnings = warnings
		res.Errors = errs
		return res, nil
	default: // basic
		res.Attempts = attempts
		res.Selection = sel
		if len(warnings) > 0 {
			res.Warnings = warnings[:1]
		}
		return res, nil
	}
}

// buildFallback synthesizes a message from the layout when no
// template resolved, per base spec §4.10.
func (m *MessageResolver) buildFallback(sys SystemFields, source EventDataSource, layout []EventDataField, reordered []string, attempts []MessageAttempt) MessageResolution {
	text := fallbackMessage(sys, layout, reordered)
	res := MessageResolution{
		Status: StatusFallback,
		Final:  &MessageFinal{Message: text, From: "fallback"},
		Fallback: &MessageFallback{
			BuiltFrom: source,
			ItemCount: len(layout),
			Message:   text,
		},
	}
	if m.opts.Diagnostics != DiagnosticsNone {
		res.Attempts = attempts
	}
	return res
}

func padOrTruncate(args []string, n int) []string {
	if len(args) == n {
		return args
	}
	if len(args) > n {
		return args[:n]
	}
	out := make([]string, n)
	copy(out, args)
	return out
}

func (m *MessageResolver) fetchCandidates(ctx context.Context, provider string, eventID uint32) ([]MessageCandidate, error) {
	var merged []MessageCandidate
	var firstErr error
	if cc, ok := m.catalog.(candidatesCatalog); ok {
		cands, err := cc.Candidates(ctx, provider, eventID, m.opts.Locale)
		if err != nil {
			firstErr = err
		} else {
			merged = append(merged, cands...)
		}
	}
	text, ok, err := m.catalog.Message(ctx, provider, eventID, m.opts.Locale)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if ok {
		merged = append(merged, MessageCandidate{Template: text, PlaceholderMax: countPlaceholders(text)})
	}
	if len(merged) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return dedupeCandidates(merged), nil
}

func dedupeCandidates(cands []MessageCandidate) []MessageCandidate {
	seen := make(map[string]bool, len(cands))
	out := make([]MessageCandidate, 0, len(cands))
	for _, c := range cands {
		if seen[c.Template] {
			continue
		}
		seen[c.Template] = true
		out = append(out, c)
	}
	return out
}

// pickBestCandidate scores candidates per base spec §4.9 step 2:
// 1000 if need == layoutCount; else 500 if need == argCount; else
// 200+need if need <= argCount; else 50-|need-argCount|. Returns the
// winning template, its placeholder count, and a warning when the
// catalog offered a single non-matching candidate (base spec §9 open
// question: still used, but flagged).
func pickBestCandidate(candidates []MessageCandidate, layoutCount, argCount int) (MessageCandidate, int, string) {
	score := func(need int) int {
		switch {
		case need == layoutCount:
			return 1000
		case need == argCount:
			return 500
		case need <= argCount:
			return 200 + need
		default:
			return 50 - absInt(need-argCount)
		}
	}

	best := candidates[0]
	bestNeed := best.PlaceholderMax
	bestScore := score(bestNeed)
	for _, c := range candidates[1:] {
		s := score(c.PlaceholderMax)
		if s > bestScore {
			best, bestNeed, bestScore = c, c.PlaceholderMax, s
		}
	}

	if len(candidates) == 1 && bestNeed != layoutCount {
		return best, bestNeed, fmt.Sprintf(
			"single candidate expects %d placeholders, layout has %d fields", bestNeed, layoutCount)
	}
	return best, bestNeed, ""
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// aliasForProvider derives the fallback provider name used for a
// second catalog lookup when the primary name has none: the event's
// own EventSourceName attribute when present (it is authoritative,
// since providers sometimes register their message table under a
// legacy name), otherwise the provider name with its
// "Microsoft-Windows-" prefix stripped.
func aliasForProvider(provider, eventSourceName string) string {
	if eventSourceName != "" {
		return eventSourceName
	}
	const prefix = "Microsoft-Windows-"
	if strings.HasPrefix(provider, prefix) {
		return strings.TrimPrefix(provider, prefix)
	}
	return provider
}

// formatMessageTemplate applies the placeholder substitution rules of
// base spec §4.9 step 4, in order: %N!fmt! (format spec stripped),
// %N, %n (newline), {N} (0-based), then any residual !fmt! tokens are
// removed.
func formatMessageTemplate(tmpl string, args []string) string {
	s := substitutePercentPlaceholders(tmpl, args)
	s = substituteBracePlaceholders(s, args)
	s = strings.ReplaceAll(s, "!fmt!", "")
	return s
}

func substitutePercentPlaceholders(tmpl string, args []string) string {
	var b strings.Builder
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i == len(runes)-1 {
			b.WriteRune(runes[i])
			continue
		}
		j := i + 1
		if runes[j] == '%' {
			b.WriteByte('%')
			i = j
			continue
		}
		if runes[j] == 'n' {
			b.WriteByte('\n')
			i = j
			continue
		}
		start := j
		for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
			j++
		}
		if j == start {
			b.WriteRune(runes[i])
			continue
		}
		n, _ := strconv.Atoi(string(runes[start:j]))
		// Optional !fmt! suffix: consume it but keep only the value.
		end := j
		if end < len(runes) && runes[end] == '!' {
			k := end + 1
			for k < len(runes) && runes[k] != '!' {
				k++
			}
			if k < len(runes) {
				end = k + 1
			}
		}
		if n >= 1 && n <= len(args) {
			b.WriteString(args[n-1])
		}
		i = end - 1
	}
	return b.String()
}

func substituteBracePlaceholders(tmpl string, args []string) string {
	var b strings.Builder
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '{' {
			b.WriteRune(runes[i])
			continue
		}
		j := i + 1
		start := j
		for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
			j++
		}
		if j == start || j >= len(runes) || runes[j] != '}' {
			b.WriteRune(runes[i])
			continue
		}
		n, _ := strconv.Atoi(string(runes[start:j]))
		if n >= 0 && n < len(args) {
			b.WriteString(args[n])
		}
		i = j
	}
	return b.String()
}

func countPlaceholders(tmpl string) int {
	max := 0
	runes := []rune(tmpl)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i == len(runes)-1 {
			continue
		}
		j := i + 1
		start := j
		for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
			j++
		}
		if j > start {
			if n, err := strconv.Atoi(string(runes[start:j])); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}

// fallbackMessage synthesizes a compact message from the layout, per
// base spec §4.10: up to 10 entries joined as "Name=Value" (or bare
// "Value" when unnamed) separated by " | ", empty values skipped.
func fallbackMessage(sys SystemFields, layout []EventDataField, args []string) string {
	var parts []string
	for i, f := range layout {
		if i >= 10 {
			break
		}
		if f.Value == "" {
			continue
		}
		if f.Name != "" {
			parts = append(parts, f.Name+"="+f.Value)
		} else {
			parts = append(parts, f.Value)
		}
	}
	if len(parts) == 0 {
		if len(args) == 0 {
			return fmt.Sprintf("%s event %d", sys.Provider, sys.EventID)
		}
		return fmt.Sprintf("%s event %d: %s", sys.Provider, sys.EventID, strings.Join(args, ", "))
	}
	return strings.Join(parts, " | ")
}
