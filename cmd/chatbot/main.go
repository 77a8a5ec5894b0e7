// Package main provides the entry point for the chatbot CLI.
package main

import (
	"fmt"
	"os"

	// Bundled plugin types
	_ "chatbot/internal/plugins/echo"
	_ "chatbot/internal/plugins/sun"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
