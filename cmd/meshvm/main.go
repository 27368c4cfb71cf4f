// Package main is the entry point for the meshvm CLI.
//
// meshvm provisions a GCE instance template pre-configured to join an
// existing managed-mesh Kubernetes cluster as a VM workload. It validates
// the target cluster, derives the workload's mesh identity from labels,
// retrieves live cluster state, and assembles and submits the template.
//
// For detailed usage information, run:
//
//	meshvm --help
package main

import (
	"fmt"
	"os"

	"github.com/meshvm/meshvm/cmd/meshvm/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
