// Command protoengine runs, validates and replays liquid-handling protocols.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/protoengine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
