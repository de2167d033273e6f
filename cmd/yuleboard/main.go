// Command yuleboard serves and exports the holiday lists.
package main

import (
	"fmt"
	"os"

	"yuleboard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "yuleboard:", err)
		os.Exit(1)
	}
}
