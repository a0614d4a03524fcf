// fm is the command-line entry point for the local multi-worker agent
// orchestrator.
package main

import (
	"os"

	"github.com/oddlot-labs/foreman/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
