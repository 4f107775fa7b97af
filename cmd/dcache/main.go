package main

import (
	"os"

	"github.com/martin-mueller-solutions/nx-distributed-cache/cmd/dcache/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
