// Command deltanear runs the DeltaNEAR intent auction service and its
// offline tooling.
package main

import (
	"fmt"
	"os"

	"github.com/bpolania/DeltaNEAR-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
