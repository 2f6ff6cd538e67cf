// Package main is the entry point for playcore-demo.
package main

import (
	"os"

	"github.com/avplayer/playcore/cmd/playcore-demo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
