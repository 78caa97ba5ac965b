// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package evtx

import "strings"

// restartManagerProvider is the provider name whose 10000/10001/10010
// events carry their message arguments in an order that does not
// match the positional %1, %2, ... order the rendered message
// template expects.
const restartManagerProvider = "Microsoft-Windows-RestartManager"

// restartManagerReorder maps each affected event ID to the ordered
// list of EventData field-name candidates its message template
// expects, one slot per placeholder. Each slot is itself a list of
// acceptable names (tried in order) since the field name varies
// slightly across provider manifest revisions; see base spec §4.10.
var restartManagerReorder = map[uint32][][]string{
	10000: {
		{"RmSessionId", "Session"},
		{"UTCStartTime", "Time", "StartTime"},
	},
	10001: {
		{"RmSessionId", "Session"},
		{"UTCStartTime", "StartTime", "Time"},
	},
	10010: {
		{"FullPath", "Application", "AppPath", "DisplayName"},
		{"Pid", "ProcessId"},
		{"Reason", "Message", "Status"},
	},
}

// reorderArgs applies any provider-specific positional argument
// reordering known to be necessary for correct message formatting,
// driven by the names already produced in layout (never by implicit
// position). Providers/event IDs without a known quirk, or a layout
// missing one of the required names, fall through to the original
// document-order args unchanged.
func reorderArgs(provider string, eventID uint32, layout []EventDataField, args []string) []string {
	if !strings.EqualFold(provider, restartManagerProvider) {
		return args
	}
	slots, ok := restartManagerReorder[eventID]
	if !ok {
		return args
	}

	byName := make(map[string]string, len(layout))
	for _, f := range layout {
		if f.Name != "" {
			byName[f.Name] = f.Value
		}
	}

	out := make([]string, 0, len(slots))
	for _, candidates := range slots {
		value, found := "", false
		for _, name := range candidates {
			if v, ok := byName[name]; ok {
				value, found = v, true
				break
			}
		}
		if !found {
			// A required field is missing from this layout: the
			// reorder mapping does not apply cleanly, so prefer the
			// document-order args over a partially-reordered result.
			return args
		}
		out = append(out, value)
	}
	return out
}
