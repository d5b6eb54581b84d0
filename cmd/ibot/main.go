package main

import (
	"os"

	"github.com/quantfold/ibot/cmd/ibot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
