package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "colloquy",
		Short: "Interactive question/answer coordination service",
	}
	root.AddCommand(serveCMD(), sweepCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
