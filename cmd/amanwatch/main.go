// Package main provides the entry point for the amanwatch CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanwatch/cmd/amanwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
