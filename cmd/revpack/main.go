// Copyright 2026 The Revpack Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package main

import (
	"log"
	"os"

	"github.com/revpack/revpack/tool"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "revpack [command] (flags)",
	Short: "revpack pack storage tool",
	Long:  ``,
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	t := tool.New()
	rootCmd.AddCommand(t.Commands...)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
