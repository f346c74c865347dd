package main

import (
	"fmt"
	"os"

	"github.com/lliwi/sar-v3-sub000/cmd/sarctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
