// cmd/archivist/main.go
package main

import (
	"errors"
	"fmt"
	"os"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var partial *partialError
		if errors.As(err, &partial) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
