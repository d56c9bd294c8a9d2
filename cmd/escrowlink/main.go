// Command escrowlink drives a deployed milestone escrow contract from the
// terminal and serves the same operations over an authenticated HTTP API.
package main

import (
	"os"

	"github.com/pterm/pterm"
)

func main() {
	if err := newRootCmd(newApp()).Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
