// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"github.com/dreamforge-ai/modelinstaller/pkg/installer"
)

// newProgress returns the run's progress callback and a cleanup
// function that finishes any live bar.
func newProgress(ro *RootOpts) (installer.ProgressFunc, func()) {
	if ro.JSONOut {
		return jsonProgress(os.Stdout), func() {}
	}
	if ro.Quiet {
		return quietProgress(), func() {}
	}
	r := &barRenderer{}
	return r.handle, r.close
}

// barRenderer draws one byte-progress bar per file. Transfers are
// strictly sequential, so a single live bar is enough.
type barRenderer struct {
	bar *pb.ProgressBar
}

func (r *barRenderer) handle(ev installer.ProgressEvent) {
	switch ev.Event {
	case "model_start":
		r.finish()
		if ev.Message != "" {
			fmt.Printf("%s %s\n", headline(ev.Model), ev.Message)
		} else {
			fmt.Println(headline(ev.Model))
		}
	case "scan_start":
		fmt.Printf("  %s\n", ev.Message)
	case "file_start":
		r.finish()
		bar := pb.New64(ev.Total)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", "  "+ev.Path+" ")
		bar.SetCurrent(ev.Downloaded)
		bar.SetWriter(os.Stdout)
		bar.Start()
		r.bar = bar
	case "file_progress":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
		}
	case "file_done":
		if r.bar != nil {
			r.bar.SetCurrent(ev.Downloaded)
			r.finish()
		} else if ev.Message != "" {
			fmt.Printf("  %s: %s\n", ev.Path, ev.Message)
		}
	case "retry":
		r.finish()
		fmt.Printf("  %s\n", warnText(fmt.Sprintf("retry %s (attempt %d): %s", ev.Path, ev.Attempt, ev.Message)))
	case "error":
		r.finish()
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", badMark("✗"), ev.Model, ev.Message)
	case "model_done":
		r.finish()
		fmt.Printf("%s %s\n", okMark("✓"), ev.Model)
	case "done":
		r.finish()
		fmt.Println(ev.Message)
	}
}

func (r *barRenderer) finish() {
	if r.bar != nil {
		r.bar.Finish()
		r.bar = nil
	}
}

func (r *barRenderer) close() { r.finish() }

// quietProgress prints one line per model and nothing per chunk.
func quietProgress() installer.ProgressFunc {
	return func(ev installer.ProgressEvent) {
		switch ev.Event {
		case "model_start":
			fmt.Printf("%s...\n", ev.Model)
		case "file_done":
			if strings.Contains(ev.Message, "skip") || strings.Contains(ev.Message, "complete") {
				fmt.Printf("  %s: %s\n", ev.Path, ev.Message)
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s: %s\n", ev.Model, ev.Message)
		case "done":
			fmt.Println(ev.Message)
		}
	}
}

// jsonProgress emits JSON-lines events. Transfers are sequential, so no
// locking is needed around the encoder.
func jsonProgress(w io.Writer) installer.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return func(ev installer.ProgressEvent) {
		_ = enc.Encode(ev)
	}
}
