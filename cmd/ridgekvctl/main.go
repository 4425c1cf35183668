// Command ridgekvctl is a small sample/inspection tool over a ridgekv
// environment, the Go-native analogue of the original source's env1.c
// sample program (SPEC_FULL.md "SUPPLEMENTED FEATURES").
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
