// Package main provides the labctl command line.
package main

import (
	"fmt"
	"os"

	"github.com/ericfisherdev/hairscope-lab/internal/cli"
)

// Set by -ldflags at build time.
var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
