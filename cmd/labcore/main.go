// Command labcore serves the laboratory resource API and runs one-shot
// reports (reorder suggestions, pre-flight checks, device health) against
// the configured store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// .env never overrides variables already set in the environment.
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
