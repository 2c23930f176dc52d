package main

import (
	"fmt"
	"os"

	"github.com/lume-fi/lumefi-contracts/cmd/lumefi/launcher"
)

func main() {
	if err := launcher.Launch(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
