// Command mintgate reports and acts on candy machine mint eligibility.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mintgate/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
