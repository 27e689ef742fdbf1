package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/tomatool/wildcheck/command"
)

func main() {
	if err := command.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.New(color.Bold, color.FgRed).Sprint(err))
		os.Exit(1)
	}
}
