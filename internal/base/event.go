// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"time"

	"github.com/cockroachdb/redact"
)

// PackCreateInfo contains the info for a pack creation event. A pack is
// created when a mutable pack flushes or when a repack writes its output.
type PackCreateInfo struct {
	JobID int
	// Path is the base path of the new pack (without the data/index suffix).
	Path string
	// Entries is the number of (name, node) entries written.
	Entries int
	// Size is the combined size in bytes of the data and index files.
	Size int64
}

func (i PackCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i PackCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[JOB %d] pack created %s (%d entries, %d bytes)",
		redact.Safe(i.JobID), i.Path, redact.Safe(i.Entries), redact.Safe(i.Size))
}

// PackDeleteInfo contains the info for a pack deletion event.
type PackDeleteInfo struct {
	JobID int
	Path  string
	Err   error
}

func (i PackDeleteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i PackDeleteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] pack delete %s failed: %s", redact.Safe(i.JobID), i.Path, i.Err)
		return
	}
	w.Printf("[JOB %d] pack deleted %s", redact.Safe(i.JobID), i.Path)
}

// PackCorruptionInfo contains the info for a pack corruption event. The pack
// is quarantined: excluded from reads and from repack deletion.
type PackCorruptionInfo struct {
	JobID int
	Path  string
	Err   error
}

func (i PackCorruptionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i PackCorruptionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[JOB %d] pack corruption in %s: %s", redact.Safe(i.JobID), i.Path, i.Err)
}

// RepackInfo contains the info for a repack event.
type RepackInfo struct {
	JobID int
	// Incremental is false for a full repack.
	Incremental bool
	// Input is the base paths of the packs selected as repack sources.
	Input []string
	// Output is the base paths of the packs written, empty until the repack
	// ends.
	Output []string
	// Entries is the number of ledger entries scanned.
	Entries int
	// GCed is the number of entries dropped by garbage collection.
	GCed int
	// Duration is total repack time, set on the end event.
	Duration time.Duration
	Err      error
}

func (i RepackInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i RepackInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	mode := redact.SafeString("incremental")
	if !i.Incremental {
		mode = "full"
	}
	if i.Err != nil {
		w.Printf("[JOB %d] %s repack failed: %s", redact.Safe(i.JobID), mode, i.Err)
		return
	}
	w.Printf("[JOB %d] %s repack: %d inputs, %d outputs, %d entries (%d gced) in %.1fs",
		redact.Safe(i.JobID), mode, redact.Safe(len(i.Input)), redact.Safe(len(i.Output)),
		redact.Safe(i.Entries), redact.Safe(i.GCed), redact.Safe(i.Duration.Seconds()))
}

// EventListener contains a set of functions that will be invoked when
// various significant engine events occur. Note that the functions should
// not run for an excessive amount of time as they are invoked synchronously
// and block continued engine work.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs during a background
	// operation such as pack deletion.
	BackgroundError func(error)

	// PackCreated is invoked after a new pack has been durably renamed into
	// place.
	PackCreated func(PackCreateInfo)

	// PackDeleted is invoked after a superseded pack has been removed.
	PackDeleted func(PackDeleteInfo)

	// PackCorruption is invoked when a pack fails to open or verify.
	PackCorruption func(PackCorruptionInfo)

	// RepackBegin is invoked after the repack lock has been acquired and
	// candidate packs selected.
	RepackBegin func(RepackInfo)

	// RepackEnd is invoked after a repack has finished, whether it succeeded
	// or not.
	RepackEnd func(RepackInfo)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Errorf("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.PackCreated == nil {
		l.PackCreated = func(PackCreateInfo) {}
	}
	if l.PackDeleted == nil {
		l.PackDeleted = func(PackDeleteInfo) {}
	}
	if l.PackCorruption == nil {
		l.PackCorruption = func(PackCorruptionInfo) {}
	}
	if l.RepackBegin == nil {
		l.RepackBegin = func(RepackInfo) {}
	}
	if l.RepackEnd == nil {
		l.RepackEnd = func(RepackInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		PackCreated: func(info PackCreateInfo) {
			logger.Infof("%s", info)
		},
		PackDeleted: func(info PackDeleteInfo) {
			logger.Infof("%s", info)
		},
		PackCorruption: func(info PackCorruptionInfo) {
			logger.Errorf("%s", info)
		},
		RepackBegin: func(info RepackInfo) {
			logger.Infof("%s", info)
		},
		RepackEnd: func(info RepackInfo) {
			logger.Infof("%s", info)
		},
	}
}
