// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package tool implements the introspection commands of the revpack CLI.
package tool

import (
	"github.com/spf13/cobra"
)

// T is the container for all of the introspection tools.
type T struct {
	Commands []*cobra.Command
	pack     *packT
	repack   *repackT
}

// New creates a new introspection tool.
func New() *T {
	t := &T{}
	t.pack = newPack()
	t.repack = newRepack()
	t.Commands = []*cobra.Command{
		t.pack.Root,
		t.repack.Root,
	}
	return t
}
