// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package revpack

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
)

// TestPickRepackPacks exercises incremental pack selection. Test input lines
// are "name size"; options arrive as command arguments.
func TestPickRepackPacks(t *testing.T) {
	datadriven.RunTest(t, "testdata/repack_picker", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "pick":
			opts := &Options{}
			for _, arg := range d.CmdArgs {
				switch arg.Key {
				case "gen-count-limit":
					opts.GenCountLimit = atoi(t, arg.Vals[0])
				case "max-repack-packs":
					opts.MaxRepackPacks = atoi(t, arg.Vals[0])
				case "size-limit":
					opts.RepackSizeLimit = int64(atoi(t, arg.Vals[0]))
				case "max-pack-size":
					opts.RepackMaxPackSize = int64(atoi(t, arg.Vals[0]))
				case "generations":
					opts.Generations = []int64{}
					for _, v := range arg.Vals {
						opts.Generations = append(opts.Generations, int64(atoi(t, v)))
					}
				default:
					d.Fatalf(t, "unknown argument %q", arg.Key)
				}
			}
			opts = opts.EnsureDefaults()

			var stats []packStat
			for _, line := range strings.Split(d.Input, "\n") {
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				if len(fields) != 2 {
					d.Fatalf(t, "malformed pack line %q", line)
				}
				stats = append(stats, packStat{path: fields[0], size: int64(atoi(t, fields[1]))})
			}

			picked := pickRepackPacks(opts, stats)
			if len(picked) == 0 {
				return "(none)\n"
			}
			var b strings.Builder
			for _, st := range picked {
				fmt.Fprintf(&b, "%s %d\n", st.path, st.size)
			}
			return b.String()
		default:
			d.Fatalf(t, "unknown command %q", d.Cmd)
			return ""
		}
	})
}

func atoi(t *testing.T, s string) int {
	t.Helper()
	v, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("bad integer %q: %s", s, err)
	}
	return v
}
