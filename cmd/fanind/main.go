package main

import (
	"os"

	"github.com/tasklab/fanin/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
