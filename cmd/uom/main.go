// Package main is the entry point for the uom application.
package main

import (
	"os"

	"github.com/uomlabs/uom/cmd/uom/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
