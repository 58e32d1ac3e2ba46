package main

import (
	"fmt"
	"os"

	"github.com/sugarme/cellseg/cmd"
)

func main() {
	if err := cmd.NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
