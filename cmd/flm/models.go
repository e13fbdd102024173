package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/runtime"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect models advertised by registered engines",
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsListFlags struct {
	engineID string
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models; all engines by default, or one with --engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())

		if modelsListFlags.engineID != "" {
			models, err := svc.Engines.ListModels(cmd.Context(), modelsListFlags.engineID)
			if err != nil {
				return emitError(err)
			}
			return emitData(models, func() { printModels(models) })
		}
		models, err := svc.Engines.ListAllModels(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(models, func() { printModels(models) })
	},
}

func init() {
	modelsListCmd.Flags().StringVar(&modelsListFlags.engineID, "engine", "", "restrict to one engine id")
	modelsCmd.AddCommand(modelsListCmd)
}

func printModels(models []ports.ModelInfo) {
	for _, m := range models {
		caps := ""
		if m.Capabilities.Reasoning {
			caps += "reasoning,"
		}
		if m.Capabilities.Tools {
			caps += "tools,"
		}
		if m.Capabilities.VisionInputs {
			caps += "vision,"
		}
		if m.Capabilities.AudioInputs {
			caps += "audio,"
		}
		fmt.Printf("%-40s  %s\n", m.ModelID, caps)
	}
}
