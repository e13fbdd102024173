package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var globalFlags struct {
	dataDir string
	format  string
}

var rootCmd = &cobra.Command{
	Use:   "flm",
	Short: "flm - local LLM gateway: proxy, security, and engine management",
	Long: `flm fronts one or more locally running LLM backends (Ollama, vLLM,
LM Studio, llama.cpp) behind a single reverse proxy that terminates TLS,
enforces API-key auth, rate limiting, and intrusion/anomaly detection, and
exposes an OpenAI-compatible surface regardless of which backend answers.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultDataDir := filepath.Join(defaultConfigHome(), "flm")
	rootCmd.PersistentFlags().StringVar(&globalFlags.dataDir, "data-dir", defaultDataDir, "directory holding config.db, security.db, and certs/")
	rootCmd.PersistentFlags().StringVar(&globalFlags.format, "format", "text", "output format: text, json")
	rootCmd.CompletionOptions.DisableDefaultCmd = false
}

func defaultConfigHome() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}
