// Command ledgerline is the outcome ledger CLI and HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ledgerline/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
