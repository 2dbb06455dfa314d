// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package tool

import (
	"fmt"
	"io"
	"strings"

	"github.com/revpack/revpack/internal/base"
	"github.com/revpack/revpack/packfile"
	"github.com/spf13/cobra"
)

// packT implements pack-level introspection tools.
type packT struct {
	Root   *cobra.Command
	Dump   *cobra.Command
	Verify *cobra.Command
}

func newPack() *packT {
	p := &packT{}
	p.Root = &cobra.Command{
		Use:   "pack",
		Short: "pack introspection tools",
	}
	p.Dump = &cobra.Command{
		Use:   "dump <pack-files>",
		Short: "print pack contents",
		Long: `
Print the entries of the specified packs. Data packs list one line per
revision with its delta base and payload size; history packs list parents,
linknode, and copy source.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  p.runDump,
	}
	p.Verify = &cobra.Command{
		Use:   "verify <pack-files>",
		Short: "verify pack indexes and entries",
		Long: `
Walk the specified packs, checking index consistency and that every entry
decodes. The exit status is non-zero if any pack fails.
`,
		Args: cobra.MinimumNArgs(1),
		Run:  p.runVerify,
	}
	p.Root.AddCommand(p.Dump, p.Verify)
	return p
}

// basePath strips a pack or index suffix off arg so both spellings work.
func basePath(arg string) (path string, history bool, ok bool) {
	for _, s := range []string{base.DataPackSuffix, base.DataIndexSuffix} {
		if strings.HasSuffix(arg, s) {
			return strings.TrimSuffix(arg, s), false, true
		}
	}
	for _, s := range []string{base.HistoryPackSuffix, base.HistoryIndexSuffix} {
		if strings.HasSuffix(arg, s) {
			return strings.TrimSuffix(arg, s), true, true
		}
	}
	return "", false, false
}

func (p *packT) runDump(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	for _, arg := range args {
		path, history, ok := basePath(arg)
		if !ok {
			fmt.Fprintf(stderr, "%s: not a pack file\n", arg)
			continue
		}
		fmt.Fprintf(stdout, "%s\n", arg)
		var err error
		if history {
			err = dumpHistoryPack(stdout, path)
		} else {
			err = dumpDataPack(stdout, path)
		}
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}
}

func dumpDataPack(w io.Writer, path string) error {
	pack, err := packfile.OpenDataPack(path)
	if err != nil {
		return err
	}
	defer pack.Close()
	keys, err := pack.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		payload, _, deltaBase, err := pack.GetDelta(k.Name, k.Node)
		if err != nil {
			return err
		}
		baseStr := deltaBase.String()
		if deltaBase.IsNull() {
			baseStr = "(full text)"
		}
		fmt.Fprintf(w, "%s %s base=%s len=%d\n", k.Name, k.Node, baseStr, len(payload))
	}
	return nil
}

func dumpHistoryPack(w io.Writer, path string) error {
	pack, err := packfile.OpenHistoryPack(path)
	if err != nil {
		return err
	}
	defer pack.Close()
	keys, err := pack.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		info, err := pack.GetNodeInfo(k.Name, k.Node)
		if err != nil {
			return err
		}
		line := fmt.Sprintf("%s %s p1=%s p2=%s link=%s", k.Name, k.Node,
			info.P1.Short(), info.P2.Short(), info.Linknode.Short())
		if info.CopyFrom != "" {
			line += " copyfrom=" + info.CopyFrom
		}
		fmt.Fprintf(w, "%s\n", line)
	}
	return nil
}

func (p *packT) runVerify(cmd *cobra.Command, args []string) {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	failed := false
	for _, arg := range args {
		path, history, ok := basePath(arg)
		if !ok {
			fmt.Fprintf(stderr, "%s: not a pack file\n", arg)
			failed = true
			continue
		}
		var err error
		if history {
			var pack *packfile.HistoryPack
			if pack, err = packfile.OpenHistoryPack(path); err == nil {
				err = pack.Verify()
				_ = pack.Close()
			}
		} else {
			var pack *packfile.DataPack
			if pack, err = packfile.OpenDataPack(path); err == nil {
				err = pack.Verify()
				_ = pack.Close()
			}
		}
		if err != nil {
			fmt.Fprintf(stderr, "%s: %s\n", arg, err)
			failed = true
			continue
		}
		fmt.Fprintf(stdout, "%s: ok\n", arg)
	}
	if failed {
		exit(1)
	}
}
