// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"time"

	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
)

// Logger exports the base.Logger interface.
type Logger = base.Logger

// Cleaner exports the base.Cleaner interface.
type Cleaner = base.Cleaner

// DeleteCleaner exports base.DeleteCleaner.
type DeleteCleaner = base.DeleteCleaner

// ArchiveCleaner exports base.ArchiveCleaner.
type ArchiveCleaner = base.ArchiveCleaner

// DeltaFunc computes the stored payload for a revision against a base text.
// It returns the delta bytes in the patch fragment format. Implementations
// that cannot produce a smaller encoding should fall back to
// packfile.MakeFullReplacementDelta.
type DeltaFunc func(baseText, target []byte) []byte

// GCPolicy controls which entries a repack is allowed to drop instead of
// carrying forward.
type GCPolicy struct {
	// TTL is the minimum age before an entry is eligible for collection. The
	// entry's age is approximated by the modification time of the pack that
	// holds it. Zero disables collection.
	TTL time.Duration

	// Keep, when non-nil, pins a key regardless of age.
	Keep func(key Key) bool
}

// Options holds the tunables for an Engine and its repacker. The zero value
// is valid; EnsureDefaults fills in unset fields.
type Options struct {
	// Logger receives informational and error messages.
	Logger Logger

	// EventListener receives notifications of pack lifecycle events.
	EventListener *base.EventListener

	// Cleaner disposes of obsolete pack files after a repack. The default
	// deletes them; ArchiveCleaner moves them aside instead.
	Cleaner Cleaner

	// DeltaFunc recomputes deltas during repack when a chain is re-based. The
	// default stores a whole-file replacement.
	DeltaFunc DeltaFunc

	// Generator, when non-nil, materializes keys that no local pack holds.
	// Reads that miss invoke it once and retry.
	Generator Generator

	// Generations are the size boundaries that partition packs for
	// incremental repack, ascending. A pack belongs to the generation of the
	// largest boundary not exceeding its size.
	Generations []int64

	// GenCountLimit is the number of packs a generation may hold before it
	// becomes a repack candidate.
	GenCountLimit int

	// MaxRepackPacks caps how many packs a single incremental repack
	// consumes.
	MaxRepackPacks int

	// RepackSizeLimit caps the combined on-disk size of the packs a single
	// incremental repack consumes, once the mandatory picks are in.
	RepackSizeLimit int64

	// RepackMaxPackSize excludes packs above this size from incremental
	// repack entirely.
	RepackMaxPackSize int64

	// MaxChainLen bounds delta chains written by the repacker. Every
	// MaxChainLen-th entry in a chain is stored as a full text.
	MaxChainLen int

	// DisableOrphanChaining stores re-rooted orphan entries as independent
	// full texts. By default orphans are chained against each other, largest
	// text first, so a name's unrelated revisions still share bytes.
	DisableOrphanChaining bool

	// MaxPackFileCount is the pack count past which MaybeRepack triggers an
	// incremental repack. Zero means use the default.
	MaxPackFileCount int

	// GC controls garbage collection during repack.
	GC GCPolicy
}

// EnsureDefaults fills in unset options. Safe to call on nil, in which case
// it allocates.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.EventListener == nil {
		o.EventListener = &base.EventListener{}
	}
	o.EventListener.EnsureDefaults(o.Logger)
	if o.Cleaner == nil {
		o.Cleaner = base.DeleteCleaner{}
	}
	if o.DeltaFunc == nil {
		o.DeltaFunc = func(baseText, target []byte) []byte {
			return packfile.MakeFullReplacementDelta(len(baseText), target)
		}
	}
	if o.Generations == nil {
		o.Generations = []int64{1 << 20, 100 << 20, 1 << 30}
	}
	if o.GenCountLimit <= 0 {
		o.GenCountLimit = 2
	}
	if o.MaxRepackPacks <= 0 {
		o.MaxRepackPacks = 50
	}
	if o.RepackSizeLimit <= 0 {
		o.RepackSizeLimit = 100 << 20
	}
	if o.RepackMaxPackSize <= 0 {
		o.RepackMaxPackSize = 4 << 30
	}
	if o.MaxChainLen <= 0 {
		o.MaxChainLen = 1000
	}
	if o.MaxPackFileCount <= 0 {
		o.MaxPackFileCount = 200
	}
	return o
}
