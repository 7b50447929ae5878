package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ternarybob/jobsengine/internal/common"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// version has no need for config/logging, so it must not inherit the
	// root command's PersistentPreRunE.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(common.GetFullVersion())
	},
}
