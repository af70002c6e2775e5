// Package main is the entry point for the sqlnet capture analyzer.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/sqlnet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
