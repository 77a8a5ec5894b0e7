package main

import (
	"fmt"
	"strings"

	"chatbot/internal/packager"

	"github.com/spf13/cobra"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build [plugin dir]",
	Short: "Package a plugin into an .mbp archive",
	Long: `Build reads maubot.yaml in the plugin directory (default: the current
directory) and writes the metadata, modules and extra files into a zip
archive named <id>-v<version>.mbp.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output file or directory (default: current directory)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	path, err := packager.NewBuilder(logger.Named("packager")).Build(dir, buildOutput, confirmOverwrite)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Built %s\n", path)
	return nil
}

func confirmOverwrite(path string) bool {
	if yesFlag {
		return true
	}
	fmt.Printf("%s already exists. Overwrite? [y/N]: ", path)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return false
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes"
}
