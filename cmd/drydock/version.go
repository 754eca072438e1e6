package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drydocklabs/drydock/internal/version"
)

// Version returns the drydock version string.
func Version() string {
	return version.Get()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the drydock version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("drydock version %s\n", Version())
	},
}
