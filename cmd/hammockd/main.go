// Command hammockd runs the Hammock application lifecycle daemon.
package main

import (
	"fmt"
	"os"

	"github.com/hammock-linux/hammockd/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
