package main

import (
	"fmt"

	"github.com/spf13/cobra"

	espalier "github.com/seragusa/espalier"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("espalier", espalier.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
