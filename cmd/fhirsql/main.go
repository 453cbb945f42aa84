// Package main provides the fhirsql command.
package main

import (
	"os"

	"github.com/leapstack-labs/fhirsql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
