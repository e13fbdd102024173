package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Unjuno/FLM-sub001/internal/runtime"
)

var apiKeysCmd = &cobra.Command{
	Use:   "api-keys",
	Short: "Create, list, and revoke API keys",
}

func init() {
	rootCmd.AddCommand(apiKeysCmd)
}

var apiKeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API key metadata (never the plaintext or hash)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		keys, err := svc.Security.ListApiKeys(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(keys, func() {
			for _, k := range keys {
				status := "active"
				if k.RevokedAt != nil {
					status = "revoked"
				}
				fmt.Printf("%s  %-20s  %s  created=%s\n", k.ID, k.Label, status, k.CreatedAt.Format("2006-01-02T15:04:05Z"))
			}
		})
	},
}

var createFlags struct {
	label string
}

var apiKeysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key; the plaintext is shown exactly once",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		created, err := svc.Security.CreateApiKey(cmd.Context(), createFlags.label)
		if err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{
			"id":     created.Record.ID,
			"label":  created.Record.Label,
			"plain":  created.Plain,
		}, func() {
			fmt.Printf("id=%s label=%s\n", created.Record.ID, created.Record.Label)
			fmt.Printf("key: %s\n", created.Plain)
			fmt.Println("this key will not be shown again")
		})
	},
}

var apiKeysRevokeCmd = &cobra.Command{
	Use:   "revoke [key-id]",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Security.RevokeApiKey(cmd.Context(), args[0]); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"revoked": args[0]}, func() { fmt.Printf("revoked %s\n", args[0]) })
	},
}

var apiKeysRotateCmd = &cobra.Command{
	Use:   "rotate [key-id]",
	Short: "Revoke a key and mint a replacement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		created, err := svc.Security.RotateApiKey(cmd.Context(), args[0], createFlags.label)
		if err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{
			"id":    created.Record.ID,
			"label": created.Record.Label,
			"plain": created.Plain,
		}, func() {
			fmt.Printf("id=%s label=%s\n", created.Record.ID, created.Record.Label)
			fmt.Printf("key: %s\n", created.Plain)
		})
	},
}

func init() {
	apiKeysCreateCmd.Flags().StringVar(&createFlags.label, "label", "", "human-readable label for this key")
	apiKeysRotateCmd.Flags().StringVar(&createFlags.label, "label", "", "new label; defaults to the old key's label")
	apiKeysCmd.AddCommand(apiKeysListCmd, apiKeysCreateCmd, apiKeysRevokeCmd, apiKeysRotateCmd)
}
