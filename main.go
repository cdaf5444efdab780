package main

import (
	"os"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
