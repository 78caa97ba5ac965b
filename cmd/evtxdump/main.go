// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/saferwall/evtx"
)

var (
	verbose      bool
	system       bool
	data         bool
	message      bool
	withMessages bool
	xml          bool
	minLevel     uint8
	provider     []string
	eventID      []string
	workers      int
	jsonOut      bool
	pretty       bool

	input string
	last  int
	start uint64
	limit int
	since string
	until string
	out   string
)

// exitUsage, exitIO, and exitFormat are the CLI's non-zero exit codes,
// per the base spec's CLI table: 1 usage error, 2 I/O error, 3 format
// error. Success is the implicit 0 from a nil error.
const (
	exitUsage  = 1
	exitIO     = 2
	exitFormat = 3
)

func classifyExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) || os.IsNotExist(err) || os.IsPermission(err) {
		return exitIO
	}
	switch {
	case errors.Is(err, evtx.ErrInvalidHeader),
		errors.Is(err, evtx.ErrInvalidChunk),
		errors.Is(err, evtx.ErrInvalidRecord),
		errors.Is(err, evtx.ErrRecordSizeMismatch),
		errors.Is(err, evtx.ErrSubstitutionHeaderInvalid),
		errors.Is(err, evtx.ErrTemplateMissing):
		return exitFormat
	case errors.Is(err, errBadUsage):
		return exitUsage
	}
	return exitIO
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "evtxdump",
		Short: "A Windows Event Log (EVTX) file parser",
		Long:  "An EVTX-parser built for speed and forensics in mind by Saferwall",
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print("You are using version 0.0.1")
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump [file-or-directory ...]",
		Short: "Dumps the events in a file",
		Long:  "Resolves and dumps every event record found in the given .evtx file(s). Accepts paths positionally or via --input.",
		RunE:  parse,
	}

	var indexCmd = &cobra.Command{
		Use:   "index [file-or-directory ...]",
		Short: "Writes an advisory chunk index",
		Long:  "Writes a JSON summary of each chunk's record range and CRC health",
		RunE:  writeIndexes,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(indexCmd)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 4, "number of files to process concurrently")

	dumpCmd.Flags().StringVarP(&input, "input", "", "", "input file or directory (alternative to positional args)")
	dumpCmd.Flags().BoolVarP(&system, "system", "", true, "dump the System section fields")
	dumpCmd.Flags().BoolVarP(&data, "data", "", true, "dump EventData/UserData fields")
	dumpCmd.Flags().BoolVarP(&message, "message", "", true, "print the resolved message in text output")
	dumpCmd.Flags().BoolVarP(&withMessages, "with-messages", "", true, "resolve messages at all (disable to skip catalog lookups)")
	dumpCmd.Flags().BoolVarP(&xml, "xml", "", false, "render the full event XML")
	dumpCmd.Flags().Uint8VarP(&minLevel, "min-level", "", 0, "skip events above this severity level (0=all)")
	dumpCmd.Flags().StringSliceVarP(&provider, "provider", "", nil, "restrict to these provider names")
	dumpCmd.Flags().StringSliceVarP(&eventID, "event-id", "", nil, "restrict to these event IDs")
	dumpCmd.Flags().IntVarP(&last, "last", "", 0, "only the N most recently written records")
	dumpCmd.Flags().Uint64VarP(&start, "start", "", 0, "skip records numbered below this")
	dumpCmd.Flags().IntVarP(&limit, "limit", "", 0, "cap the number of events emitted (0=unbounded)")
	dumpCmd.Flags().StringVarP(&since, "since", "", "", "only events at or after this RFC3339 timestamp")
	dumpCmd.Flags().StringVarP(&until, "until", "", "", "only events at or before this RFC3339 timestamp")
	dumpCmd.Flags().StringVarP(&out, "out", "", "", "write output to this path instead of stdout")
	dumpCmd.Flags().BoolVarP(&pretty, "pretty", "", false, "pretty-print JSON output")
	dumpCmd.Flags().BoolVarP(&jsonOut, "json", "", false, "emit newline-delimited JSON instead of tab-separated text")

	err := rootCmd.Execute()
	os.Exit(classifyExitCode(err))
}
