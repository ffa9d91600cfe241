// Command nexusctl is the control-plane admin CLI: it opens the durable
// store a running control plane would use, dials node agents directly over
// gRPC, and dispatches create/destroy/publish operations through
// pkg/controlplane.Service without running a separate daemon process.
package main

import (
	"fmt"
	"os"

	"github.com/nexusfleet/nexuscore/cmd/nexusctl/commands"
)

var version = "dev"

func main() {
	commands.Version = version
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
