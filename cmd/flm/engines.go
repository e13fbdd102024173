package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/runtime"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Detect and inspect local inference backends",
}

func init() {
	rootCmd.AddCommand(enginesCmd)
}

var enginesDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Probe binaries and running HTTP endpoints for every known backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		states, err := svc.Engines.DetectEngines(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(states, func() { printEngineStates(states) })
	},
}

var healthHistoryFlags struct {
	engineID string
	limit    int
}

var enginesHealthHistoryCmd = &cobra.Command{
	Use:   "health-history",
	Short: "Show recent health-log samples for one engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.ConfigRepo.ListHealthLogs(cmd.Context(), healthHistoryFlags.engineID, healthHistoryFlags.limit)
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%s  engine=%-12s  error_rate=%.2f  %s\n", r.ID, r.EngineID, r.ErrorRate, r.CreatedAt.Format("2006-01-02T15:04:05Z"))
			}
		})
	},
}

func init() {
	enginesHealthHistoryCmd.Flags().StringVar(&healthHistoryFlags.engineID, "engine", "", "engine id (all engines if omitted)")
	enginesHealthHistoryCmd.Flags().IntVar(&healthHistoryFlags.limit, "limit", 50, "max rows to return")
	enginesCmd.AddCommand(enginesDetectCmd, enginesHealthHistoryCmd)
}

func printEngineStates(states []ports.EngineState) {
	for _, e := range states {
		fmt.Printf("%-12s  %-10s  %-20s  %s", e.ID, e.Kind, e.Name, e.Status)
		if e.LatencyMs > 0 {
			fmt.Printf("  latency=%dms", e.LatencyMs)
		}
		if e.Reason != "" {
			fmt.Printf("  reason=%q", e.Reason)
		}
		fmt.Println()
	}
}
