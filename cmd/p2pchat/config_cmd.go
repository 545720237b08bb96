package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/p2pchat/p2pchat/internal/config"
)

var configWritePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print or write the default configuration file",
	Run:   runConfig,
}

func init() {
	configCmd.Flags().StringVar(&configWritePath, "write", "", "write the default configuration to this path instead of printing it")
}

func runConfig(cmd *cobra.Command, args []string) {
	doc := config.Render(config.Default())

	if configWritePath == "" {
		fmt.Print(doc)
		return
	}

	if err := os.MkdirAll(filepath.Dir(configWritePath), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}
	if err := os.WriteFile(configWritePath, []byte(doc), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}
	fmt.Printf("wrote default configuration to %s\n", configWritePath)
}
