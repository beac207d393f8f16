// Package main is the Kiji entry point.
package main

import (
	"os"

	"github.com/hyperjump/kiji/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
