// Command subotaid runs a standalone DHT node, bootstrapping it against a
// seed peer and logging lifecycle transitions until interrupted.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
