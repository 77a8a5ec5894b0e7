package main

import (
	"fmt"

	"chatbot/internal/host"
	"chatbot/pkg/plugin"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information and bundled plugin types",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "chatbot %s\n", host.Version)
		for _, info := range plugin.List() {
			fmt.Fprintf(out, "  %-24s %s\n", info.ID, info.Description)
		}
	},
}
