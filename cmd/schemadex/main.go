// Package main provides the entry point for the schemadex CLI.
package main

import (
	"os"

	"github.com/schemadex/schemadex/cmd/schemadex/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
