// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

// entryFlags records what a repack has learned about one (name, node) entry.
type entryFlags uint8

const (
	// entryDataSource marks an entry scanned out of a source data pack.
	entryDataSource entryFlags = 1 << iota
	// entryHistSource marks an entry scanned out of a source history pack.
	entryHistSource
	// entryDataRepacked marks an entry written to the output data pack.
	entryDataRepacked
	// entryHistRepacked marks an entry written to the output history pack.
	entryHistRepacked
	// entryGCed marks an entry dropped by garbage collection.
	entryGCed
)

// ledgerEntry is the repack ledger's record for one key.
type ledgerEntry struct {
	key   Key
	flags entryFlags
	// dataPack and histPack are the base paths of the source packs the entry
	// was scanned from. An entry that appears in several sources records the
	// first; duplicates in later sources are subsumed by the same output.
	dataPack string
	histPack string
}

func (e *ledgerEntry) dataSubsumed() bool {
	return e.flags&(entryDataRepacked|entryGCed) != 0
}

func (e *ledgerEntry) histSubsumed() bool {
	return e.flags&(entryHistRepacked|entryGCed) != 0
}

// repackLedger tracks every entry a repack scans and what became of it. A
// source pack may be deleted only when every entry scanned from it has been
// repacked or garbage collected; anything less and deletion would lose data.
type repackLedger struct {
	entries map[Key]*ledgerEntry
	// byDataPack and byHistPack group entry keys by source pack for the
	// subsumption check.
	byDataPack map[string][]Key
	byHistPack map[string][]Key
}

func newRepackLedger() *repackLedger {
	return &repackLedger{
		entries:    make(map[Key]*ledgerEntry),
		byDataPack: make(map[string][]Key),
		byHistPack: make(map[string][]Key),
	}
}

func (l *repackLedger) entry(key Key) *ledgerEntry {
	e, ok := l.entries[key]
	if !ok {
		e = &ledgerEntry{key: key}
		l.entries[key] = e
	}
	return e
}

// addDataSource records that key was scanned from the data pack at path.
func (l *repackLedger) addDataSource(key Key, path string) {
	e := l.entry(key)
	if e.flags&entryDataSource == 0 {
		e.flags |= entryDataSource
		e.dataPack = path
	}
	l.byDataPack[path] = append(l.byDataPack[path], key)
}

// addHistSource records that key was scanned from the history pack at path.
func (l *repackLedger) addHistSource(key Key, path string) {
	e := l.entry(key)
	if e.flags&entryHistSource == 0 {
		e.flags |= entryHistSource
		e.histPack = path
	}
	l.byHistPack[path] = append(l.byHistPack[path], key)
}

func (l *repackLedger) markDataRepacked(key Key) {
	l.entry(key).flags |= entryDataRepacked
}

func (l *repackLedger) markHistRepacked(key Key) {
	l.entry(key).flags |= entryHistRepacked
}

func (l *repackLedger) markGCed(key Key) {
	l.entry(key).flags |= entryGCed
}

// dataSourceComplete reports whether every entry scanned from the data pack
// at path has been repacked or collected.
func (l *repackLedger) dataSourceComplete(path string) bool {
	keys, ok := l.byDataPack[path]
	if !ok {
		// No scanned entries on record. Either the pack was empty or the scan
		// failed; the repacker only asks about packs it scanned successfully.
		return true
	}
	for _, k := range keys {
		if !l.entries[k].dataSubsumed() {
			return false
		}
	}
	return true
}

// histSourceComplete reports whether every entry scanned from the history
// pack at path has been repacked or collected.
func (l *repackLedger) histSourceComplete(path string) bool {
	keys, ok := l.byHistPack[path]
	if !ok {
		return true
	}
	for _, k := range keys {
		if !l.entries[k].histSubsumed() {
			return false
		}
	}
	return true
}

// counts returns the total and garbage-collected entry counts.
func (l *repackLedger) counts() (entries, gced int) {
	for _, e := range l.entries {
		entries++
		if e.flags&entryGCed != 0 {
			gced++
		}
	}
	return entries, gced
}
