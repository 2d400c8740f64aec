// Package main provides the entry point for the baton-dispatcher CLI.
package main

import (
	"os"

	"github.com/randalmurphal/baton-dispatcher/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
