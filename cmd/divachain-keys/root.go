// Package main implements the operator CLI for managing validator identities
// and submitting signed transactions against a running node's public API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	keyPath string
	ident   string
)

// rootCmd is the base command; every identity subcommand hangs off it.
var rootCmd = &cobra.Command{
	Use:   "divachain-keys",
	Short: "Manage validator key files and submit transactions to a node",
}

// Execute runs the CLI. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&keyPath, "path", "p", "./blockchain/keys/", "Directory holding <ident>.public / <ident>.private.")
	rootCmd.PersistentFlags().StringVarP(&ident, "ident", "i", "", "Validator identity (file name stem).")
}
