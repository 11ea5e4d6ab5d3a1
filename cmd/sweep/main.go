// Package main provides castdrop-sweep, a one-shot expiry sweep for use from
// cron jobs or schedulers outside the server process.
package main

import (
	"fmt"
	"os"

	"github.com/maauso/castdrop/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
