package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	debugFlag bool
	yesFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatbot",
	Short: "A plugin-based chat bot host",
	Long: `Chatbot connects to a chat server and runs plugin instances.

Each instance binds its declared event handlers to the chat client and its
web handlers to a mount under /_chatbot/plugin/<id>/ while it is started.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "development logging at debug level")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "auto-confirm all prompts")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger() (*zap.Logger, error) {
	if debugFlag {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
