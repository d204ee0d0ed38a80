package main

import (
	"os"

	"github.com/docport/docport/cmd/docport/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
