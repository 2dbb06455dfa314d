// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"fmt"

	"github.com/cockroachdb/redact"
)

// GenerationMetrics holds per-generation pack counts and sizes.
type GenerationMetrics struct {
	// Boundary is the lower size bound of the generation, in bytes.
	Boundary int64
	// NumPacks is the number of packs currently in the generation.
	NumPacks int64
	// Size is the combined on-disk size of those packs.
	Size int64
}

// Metrics holds engine-wide counters. They are monotonic over the life of the
// Engine except for the pack census, which reflects the last directory scan.
type Metrics struct {
	// DataPacks is the number of data packs in the pack directory.
	DataPacks int64
	// HistoryPacks is the number of history packs in the pack directory.
	HistoryPacks int64
	// PackBytes is the combined size of all pack and index files.
	PackBytes int64
	// CorruptPacks is the number of packs quarantined as unreadable.
	CorruptPacks int64

	// Generations is the per-generation census of data packs, ordered by
	// ascending boundary.
	Generations []GenerationMetrics

	Repack struct {
		// Count is the number of repacks completed.
		Count int64
		// InputPacks and OutputPacks count pack pairs consumed and produced.
		InputPacks  int64
		OutputPacks int64
		// Entries is the number of entries rewritten.
		Entries int64
		// GCed is the number of entries dropped by garbage collection.
		GCed int64
	}
}

// String implements fmt.Stringer.
func (m *Metrics) String() string {
	return redact.StringWithoutMarkers(m)
}

var _ redact.SafeFormatter = (*Metrics)(nil)

// SafeFormat implements redact.SafeFormatter.
func (m *Metrics) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("packs: %d data, %d history (%d bytes, %d corrupt)\n",
		redact.Safe(m.DataPacks), redact.Safe(m.HistoryPacks),
		redact.Safe(m.PackBytes), redact.Safe(m.CorruptPacks))
	for _, g := range m.Generations {
		w.Printf("  gen >=%d: %d packs, %d bytes\n",
			redact.Safe(g.Boundary), redact.Safe(g.NumPacks), redact.Safe(g.Size))
	}
	w.Printf("repacks: %d (in %d, out %d, entries %d, gced %d)",
		redact.Safe(m.Repack.Count), redact.Safe(m.Repack.InputPacks),
		redact.Safe(m.Repack.OutputPacks), redact.Safe(m.Repack.Entries),
		redact.Safe(m.Repack.GCed))
}

var _ fmt.Stringer = (*Metrics)(nil)
