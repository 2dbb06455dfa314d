// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package tool

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/revpack/revpack"
	"github.com/spf13/cobra"
)

// exit is overridden in tests.
var exit = os.Exit

// repackT implements the repack command.
type repackT struct {
	Root *cobra.Command

	incremental bool
	verbose     bool
}

func newRepack() *repackT {
	r := &repackT{}
	r.Root = &cobra.Command{
		Use:   "repack <dir>",
		Short: "merge packs in a pack directory",
		Long: `
Rewrite the packs in the directory into fewer, larger ones and delete the
sources that were fully subsumed. With --incremental only the generation
that has outgrown its pack count limit is consumed.
`,
		Args: cobra.ExactArgs(1),
		Run:  r.run,
	}
	r.Root.Flags().BoolVar(&r.incremental, "incremental", false,
		"repack only the over-limit generation")
	r.Root.Flags().BoolVarP(&r.verbose, "verbose", "v", false,
		"log pack lifecycle events")
	return r
}

func (r *repackT) run(cmd *cobra.Command, args []string) {
	stderr := cmd.ErrOrStderr()
	opts := &revpack.Options{}
	if r.verbose {
		listener := revpack.MakeLoggingEventListener(nil)
		opts.EventListener = &listener
	}
	engine, err := revpack.Open(args[0], opts)
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		exit(1)
		return
	}
	defer engine.Close()
	if err := engine.Repack(r.incremental); err != nil {
		if errors.Is(err, revpack.ErrRepackInProgress) {
			fmt.Fprintf(stderr, "another repack is in progress\n")
		} else {
			fmt.Fprintf(stderr, "%s\n", err)
		}
		exit(1)
		return
	}
	m := engine.Metrics()
	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", m.String())
}
