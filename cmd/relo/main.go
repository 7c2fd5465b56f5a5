// Package main provides the entry point for the relo CLI.
package main

import (
	"os"

	"github.com/relohq/relo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
