// Package main provides the entry point for the tusk CLI.
package main

import (
	"os"

	"github.com/tuskdev/tusk/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
