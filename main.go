// felix86 runs unmodified x86/x86-64 Linux binaries on riscv64 hosts.
//
// See cmd/ for the run, config, and version subcommands.
package main

import (
	"fmt"
	"os"

	"felix86/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
