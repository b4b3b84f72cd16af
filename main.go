package main

import (
	"os"

	"github.com/wodeewa/fleetd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
