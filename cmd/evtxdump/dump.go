// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/saferwall/evtx"
)

// errBadUsage marks a CLI argument error, mapped to exit code 1.
var errBadUsage = errors.New("evtxdump: usage error")

var (
	wg   sync.WaitGroup
	jobs chan string

	errMu   sync.Mutex
	firstRc error
)

func recordErr(err error) {
	if err == nil {
		return
	}
	errMu.Lock()
	defer errMu.Unlock()
	if firstRc == nil {
		firstRc = err
	}
}

func isDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fileInfo.IsDir()
}

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, buff, "", "\t"); err != nil {
		return string(buff)
	}
	return prettyJSON.String()
}

// loopFilesWorker drains jobs, dumping each file, until the channel is
// closed.
func loopFilesWorker(w io.Writer) {
	defer wg.Done()
	for filePath := range jobs {
		recordErr(dumpFile(filePath, w))
	}
}

// loopDirsFiles walks root collecting file paths and feeds them to
// workers, mirroring a single-file invocation when root is itself a
// file.
func loopDirsFiles(root string, w io.Writer) {
	n := workers
	if n < 1 {
		n = 1
	}
	jobs = make(chan string)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go loopFilesWorker(w)
	}

	if !isDirectory(root) {
		jobs <- root
	} else {
		filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil || fi.IsDir() {
				return nil
			}
			jobs <- path
			return nil
		})
	}
	close(jobs)
	wg.Wait()
}

// inputPaths resolves the dump/index target paths from positional
// args and/or --input, per the base spec's CLI table.
func inputPaths(args []string) ([]string, error) {
	paths := append([]string{}, args...)
	if input != "" {
		paths = append(paths, input)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input file or directory given (use --input or a positional argument)", errBadUsage)
	}
	return paths, nil
}

// parseTimeFlag parses an RFC3339 timestamp flag, returning the zero
// time (no filter) when s is empty.
func parseTimeFlag(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid --%s %q: %v", errBadUsage, flag, s, err)
	}
	return t, nil
}

func parse(cmd *cobra.Command, args []string) error {
	paths, err := inputPaths(args)
	if err != nil {
		return err
	}
	if _, err := parseTimeFlag("since", since); err != nil {
		return err
	}
	if _, err := parseTimeFlag("until", until); err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	firstRc = nil
	for _, p := range paths {
		loopDirsFiles(p, w)
	}
	return firstRc
}

func writeIndexes(cmd *cobra.Command, args []string) error {
	paths, err := inputPaths(args)
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	for _, p := range paths {
		targets := []string{p}
		if isDirectory(p) {
			targets = nil
			filepath.Walk(p, func(path string, fi os.FileInfo, err error) error {
				if err == nil && !fi.IsDir() {
					targets = append(targets, path)
				}
				return nil
			})
		}
		for _, filePath := range targets {
			if err := dumpIndex(filePath, w); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpIndex(filePath string, w io.Writer) error {
	f, err := evtx.Open(filePath, evtx.Options{Resolver: evtx.ResolverOptions{Disabled: true}})
	if err != nil {
		return err
	}
	defer f.Close()
	return f.WriteIndex(w)
}

func dumpFile(filePath string, w io.Writer) error {
	if verbose {
		log.Printf("processing %s", filePath)
	}

	ids := make([]uint32, 0, len(eventID))
	for _, s := range eventID {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid --event-id %q: %v", errBadUsage, s, err)
		}
		ids = append(ids, uint32(n))
	}

	opts := evtx.Options{
		IncludeXML: xml,
	}
	if !withMessages {
		opts.Resolver.Disabled = true
	}
	f, err := evtx.Open(filePath, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	q := evtx.NewQuery(f).MinLevel(minLevel)
	if len(provider) > 0 {
		q = q.Provider(provider...)
	}
	if len(ids) > 0 {
		q = q.EventID(ids...)
	}
	if sinceT, _ := parseTimeFlag("since", since); !sinceT.IsZero() {
		q = q.Since(sinceT)
	}
	if untilT, _ := parseTimeFlag("until", until); !untilT.IsZero() {
		q = q.Until(untilT)
	}
	if start > 0 {
		q = q.Start(start)
	}
	if last > 0 {
		q = q.Last(last)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	ctx := context.Background()
	stream := q.Stream()

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for {
		ev, ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		printEvent(tw, ev)
	}
	return tw.Flush()
}

func printEvent(tw *tabwriter.Writer, ev *evtx.ResolvedEvent) {
	if jsonOut || pretty {
		buf, err := json.Marshal(ev)
		if err != nil {
			log.Printf("error marshaling event: %s", err)
			return
		}
		if pretty {
			fmt.Fprintln(tw, prettyPrint(buf))
		} else {
			fmt.Fprintln(tw, string(buf))
		}
		return
	}

	if system {
		fmt.Fprintf(tw, "RecordID:\t%d\n", ev.System.RecordID)
		fmt.Fprintf(tw, "Provider:\t%s\n", ev.System.Provider)
		fmt.Fprintf(tw, "EventID:\t%d\n", ev.System.EventID)
		fmt.Fprintf(tw, "Level:\t%s\n", ev.System.LevelName)
		fmt.Fprintf(tw, "TimeCreated:\t%s\n", ev.System.TimeCreated.Format("2006-01-02T15:04:05.999999999Z07:00"))
		fmt.Fprintf(tw, "Channel:\t%s\n", ev.System.Channel)
		fmt.Fprintf(tw, "Computer:\t%s\n", ev.System.Computer)
	}
	if data {
		for _, f := range ev.Data.Items {
			fmt.Fprintf(tw, "  %s:\t%s\n", f.Name, f.Value)
		}
	}
	if message {
		fmt.Fprintf(tw, "Message:\t%s\n", ev.Message.Text())
	}
	if xml {
		fmt.Fprintf(tw, "XML:\t%s\n", ev.XML)
	}
	fmt.Fprintln(tw, "")
}
