package main

import (
	"os"

	"github.com/aksanoble/hasu/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
