// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"sort"
	"time"
)

// packStat is the picker's view of one pack pair on disk.
type packStat struct {
	// path is the pack's base path (no suffix).
	path string
	// size is the data file's size in bytes.
	size int64
	// mtime is the data file's modification time, used as the age proxy for
	// garbage collection.
	mtime time.Time
}

// pickRepackPacks selects the packs an incremental repack will consume.
//
// Packs are partitioned into size generations. The largest generation that
// has outgrown GenCountLimit is chosen; within it the smallest packs are
// taken first, with the first few mandatory so that progress is made even
// when individual packs are large, and the rest admitted while the run stays
// under RepackSizeLimit and MaxRepackPacks. Packs above
// RepackMaxPackSize never participate; merging them buys little and costs a
// full rewrite of their bytes.
//
// Returns nil when no generation is over its limit.
func pickRepackPacks(opts *Options, stats []packStat) []packStat {
	// mandatoryPicks packs are always taken from the chosen generation, so
	// that two oversize packs cannot stall repacking forever.
	const mandatoryPicks = 3

	gens := make([][]packStat, len(opts.Generations))
	for _, st := range stats {
		if st.size > opts.RepackMaxPackSize {
			continue
		}
		g := generationOf(opts.Generations, st.size)
		gens[g] = append(gens[g], st)
	}

	for g := len(gens) - 1; g >= 0; g-- {
		if len(gens[g]) <= opts.GenCountLimit {
			continue
		}
		chosen := gens[g]
		sort.Slice(chosen, func(i, j int) bool {
			if chosen[i].size != chosen[j].size {
				return chosen[i].size < chosen[j].size
			}
			return chosen[i].path < chosen[j].path
		})
		var picked []packStat
		var total int64
		for _, st := range chosen {
			if len(picked) >= opts.MaxRepackPacks {
				break
			}
			if len(picked) >= mandatoryPicks && total+st.size > opts.RepackSizeLimit {
				break
			}
			picked = append(picked, st)
			total += st.size
		}
		// A single pack is a no-op rewrite.
		if len(picked) < 2 {
			return nil
		}
		return picked
	}
	return nil
}
