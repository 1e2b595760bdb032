// Package main is the entry point for the opsctl binary.
package main

import (
	"os"

	"github.com/juanfero/rappi-intelligent-ops/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
