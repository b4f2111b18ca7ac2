package main

import (
	"os"

	"github.com/perbu/policyrag/cmd/policyrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
