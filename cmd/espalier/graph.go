package main

import (
	"fmt"

	"github.com/spf13/cobra"

	espalier "github.com/seragusa/espalier"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the pipeline topology as a Mermaid flowchart",
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := espalier.DefaultGraph()
		if err != nil {
			return err
		}
		fmt.Print(g.Mermaid())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
