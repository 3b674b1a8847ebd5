package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/pluginhost/pkg/cli"
)

// Set by the release build via -ldflags
var version = "dev"

func main() {
	rootCmd := cli.NewRootCommand(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
