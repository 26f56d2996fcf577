package main

import (
	"fmt"
	"os"

	"hello_gateway/internal/djb2"
)

// genhash prints the djb2 #define table for the static-file extensions.
func main() {
	if err := djb2.WriteDefines(os.Stdout, djb2.Extensions); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}
