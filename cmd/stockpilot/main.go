package main

import (
	"os"

	"github.com/harun/stockpilot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
