package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "gate",
		Short:         "Pipeline gate-and-retry evaluator",
		Long:          "gate decides whether pipeline steps run: entry criteria and blocking\nconditions open or close the gate, and a bounded backoff retry loop wraps\nthe step body.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
