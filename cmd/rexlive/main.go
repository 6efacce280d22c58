// Command rexlive runs a real-time voice agent against a speech-to-speech
// model service.
package main

import (
	"fmt"
	"os"

	"github.com/MrWong99/rexlive/cmd/rexlive/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rexlive: %v\n", err)
		os.Exit(1)
	}
}
