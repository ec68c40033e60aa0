package main

import (
	"os"

	"github.com/conneroisu/staticpack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
