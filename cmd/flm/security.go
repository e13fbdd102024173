package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Unjuno/FLM-sub001/internal/certsvc"
	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/runtime"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Manage policy, blocklist, audit logs, and certificates",
}

func init() {
	rootCmd.AddCommand(securityCmd)
}

// --- policy ---

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Get, set, and list security policies",
}

var policySetFlags struct {
	id         string
	policyJSON string
	policyFile string
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Validate and persist a security policy document",
	RunE: func(cmd *cobra.Command, args []string) error {
		body := policySetFlags.policyJSON
		if policySetFlags.policyFile != "" {
			b, err := os.ReadFile(policySetFlags.policyFile)
			if err != nil {
				return emitError(err)
			}
			body = string(b)
		}
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Security.SetPolicy(cmd.Context(), policySetFlags.id, body); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"id": policySetFlags.id}, func() { fmt.Printf("policy %s saved\n", policySetFlags.id) })
	},
}

var policyGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Print a stored policy document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		p, err := svc.Security.GetPolicy(cmd.Context(), args[0])
		if err != nil {
			return emitError(err)
		}
		return emitData(p, func() { fmt.Println(p.PolicyJSON) })
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every stored policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		ps, err := svc.Security.ListPolicies(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(ps, func() {
			for _, p := range ps {
				fmt.Printf("%-12s  updated=%s\n", p.ID, p.UpdatedAt.Format(time.RFC3339))
			}
		})
	},
}

func init() {
	policySetCmd.Flags().StringVar(&policySetFlags.id, "id", "default", "policy id")
	policySetCmd.Flags().StringVar(&policySetFlags.policyJSON, "json", "", "inline policy JSON document")
	policySetCmd.Flags().StringVar(&policySetFlags.policyFile, "file", "", "path to a policy JSON document")
	policyCmd.AddCommand(policySetCmd, policyGetCmd, policyListCmd)
	securityCmd.AddCommand(policyCmd)
}

// --- backup ---

type securityBackup struct {
	Version     string                       `json:"version"`
	TakenAt     string                       `json:"taken_at"`
	Policies    []ports.SecurityPolicy       `json:"policies"`
	ApiKeys     []ports.ApiKeyRecord         `json:"api_keys"`
	DNSProfiles []ports.DnsCredentialProfile `json:"dns_credential_profiles"`
}

var backupFlags struct {
	output string
}

// securityBackupCmd exports policy documents, API-key metadata, and DNS
// credential profile metadata (never hashes or tokens) as a single JSON
// document. Restore is out of this core's scope per spec §1/§6 — the
// desktop shell's backup/restore utility is the external collaborator
// that consumes this output.
var securityBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export policy and key metadata (no secrets) as a JSON snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())

		policies, err := svc.Security.ListPolicies(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		keys, err := svc.Security.ListApiKeys(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		profiles, err := svc.Security.ListDNSCredentials(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		snap := securityBackup{
			Version: envelopeVersion, TakenAt: timeNowUTCString(),
			Policies: policies, ApiKeys: keys, DNSProfiles: profiles,
		}

		if backupFlags.output != "" {
			b, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return emitError(err)
			}
			if err := os.WriteFile(backupFlags.output, b, 0o600); err != nil {
				return emitError(err)
			}
			return emitData(map[string]any{"written": backupFlags.output}, func() { fmt.Printf("wrote %s\n", backupFlags.output) })
		}
		return emitData(snap, func() {
			b, _ := json.MarshalIndent(snap, "", "  ")
			fmt.Println(string(b))
		})
	},
}

func init() {
	securityBackupCmd.Flags().StringVar(&backupFlags.output, "output", "", "write snapshot to this path instead of stdout")
	securityCmd.AddCommand(securityBackupCmd)
}

func timeNowUTCString() string { return time.Now().UTC().Format(time.RFC3339) }

// --- ip-blocklist ---

var ipBlocklistCmd = &cobra.Command{
	Use:   "ip-blocklist",
	Short: "List and manage blocked IPs",
}

var ipBlocklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every IP currently recorded in the blocklist",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListBlockedIPs(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				until := "permanent"
				if !r.PermanentBlock {
					if r.BlockedUntil != nil {
						until = r.BlockedUntil.Format(time.RFC3339)
					} else {
						until = "-"
					}
				}
				fmt.Printf("%-16s  failures=%-4d  until=%s\n", r.IP, r.FailureCount, until)
			}
		})
	},
}

var ipBlocklistUnblockCmd = &cobra.Command{
	Use:   "unblock [ip]",
	Short: "Remove an IP from the blocklist immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Security.UnblockIP(cmd.Context(), args[0]); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"unblocked": args[0]}, func() { fmt.Printf("unblocked %s\n", args[0]) })
	},
}

func init() {
	ipBlocklistCmd.AddCommand(ipBlocklistListCmd, ipBlocklistUnblockCmd)
	securityCmd.AddCommand(ipBlocklistCmd)
}

// --- audit-logs ---

var auditLogsFlags struct{ limit int }

var auditLogsCmd = &cobra.Command{
	Use:   "audit-logs",
	Short: "Show recent audit-log rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListAuditLogs(cmd.Context(), auditLogsFlags.limit)
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%s  %-12s  %-20s  status=%-3d  latency=%-6dms  ip=%-15s  %s\n",
					r.CreatedAt.Format(time.RFC3339), r.EventType, r.Endpoint, r.Status, r.LatencyMs, r.IP, r.Severity)
			}
		})
	},
}

func init() {
	auditLogsCmd.Flags().IntVar(&auditLogsFlags.limit, "limit", 50, "max rows to return")
	securityCmd.AddCommand(auditLogsCmd)
}

// --- intrusion ---

var intrusionFlags struct{ limit int }

var intrusionCmd = &cobra.Command{
	Use:   "intrusion",
	Short: "Show recent intrusion-detection hits",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListIntrusionAttempts(cmd.Context(), intrusionFlags.limit)
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%s  ip=%-15s  pattern=%-20s  score=%-4d  %s %s\n",
					r.CreatedAt.Format(time.RFC3339), r.IP, r.Pattern, r.Score, r.Method, r.RequestPath)
			}
		})
	},
}

func init() {
	intrusionCmd.Flags().IntVar(&intrusionFlags.limit, "limit", 50, "max rows to return")
	securityCmd.AddCommand(intrusionCmd)
}

// --- anomaly ---

var anomalyFlags struct {
	ip    string
	limit int
}

var anomalyCmd = &cobra.Command{
	Use:   "anomaly",
	Short: "Show recent anomaly-detection events",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListAnomalyDetections(cmd.Context(), anomalyFlags.ip, anomalyFlags.limit)
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%s  ip=%-15s  type=%-28s  score=%-4d  %s\n",
					r.CreatedAt.Format(time.RFC3339), r.IP, r.AnomalyType, r.Score, r.Details)
			}
		})
	},
}

func init() {
	anomalyCmd.Flags().StringVar(&anomalyFlags.ip, "ip", "", "restrict to one IP (all IPs if omitted)")
	anomalyCmd.Flags().IntVar(&anomalyFlags.limit, "limit", 50, "max rows to return")
	securityCmd.AddCommand(anomalyCmd)
}

// --- install-ca ---

var installCAFlags struct{ commonName string }

var installCACmd = &cobra.Command{
	Use:   "install-ca",
	Short: "Generate a root CA and register it with the OS trust store",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.InstallCA(installCAFlags.commonName); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"installed": true}, func() { fmt.Println("root CA generated and registered with the OS trust store") })
	},
}

func init() {
	installCACmd.Flags().StringVar(&installCAFlags.commonName, "common-name", "FLM Local Root CA", "subject common name for the generated root")
	securityCmd.AddCommand(installCACmd)
}

// --- certificates ---

var certificatesFlags struct{ checkTrustStore bool }

// certificatesCmd lists certificate records; --check-trust-store adds a
// read-only lookup of each cert's SHA-256 thumbprint against the OS trust
// store, supplementing §4.1's mint/install operations with the original
// adapter's is_certificate_registered_in_trust_store verification step.
var certificatesCmd = &cobra.Command{
	Use:   "certificates",
	Short: "List certificate records known to the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListCertificates(cmd.Context())
		if err != nil {
			return emitError(err)
		}

		type certRow struct {
			ports.CertificateRecord
			RegisteredInTrustStore *bool `json:"registered_in_trust_store,omitempty"`
		}
		out := make([]certRow, len(rows))
		for i, r := range rows {
			out[i] = certRow{CertificateRecord: r}
			if certificatesFlags.checkTrustStore {
				registered := false
				if data, rerr := os.ReadFile(r.CertPath); rerr == nil {
					registered = certsvc.IsCertificateRegisteredInTrustStore(data)
				}
				out[i].RegisteredInTrustStore = &registered
			}
		}

		return emitData(out, func() {
			for i, r := range rows {
				expires := "-"
				if r.ExpiresAt != nil {
					expires = r.ExpiresAt.Format(time.RFC3339)
				}
				line := fmt.Sprintf("%-12s  domain=%-24s  mode=%-14s  expires=%s", r.ID, r.Domain, r.Mode, expires)
				if certificatesFlags.checkTrustStore {
					line += fmt.Sprintf("  trust_store=%v", *out[i].RegisteredInTrustStore)
				}
				fmt.Println(line)
			}
		})
	},
}

func init() {
	certificatesCmd.Flags().BoolVar(&certificatesFlags.checkTrustStore, "check-trust-store", false, "verify each certificate's presence in the OS trust store")
	securityCmd.AddCommand(certificatesCmd)
}

// --- rate-limits ---

var rateLimitsCmd = &cobra.Command{
	Use:   "rate-limits",
	Short: "List active rate-limit bucket state",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.SecRepo.ListRateLimitStates(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%-40s  requests=%-6d  reset_at=%s\n", r.Key, r.RequestsCount, r.ResetAt.Format(time.RFC3339))
			}
		})
	},
}

func init() {
	securityCmd.AddCommand(rateLimitsCmd)
}

// --- dns-credentials ---

var dnsCredentialsCmd = &cobra.Command{
	Use:   "dns-credentials",
	Short: "Manage DNS-01 provider credential profile metadata",
}

var dnsCredUpsertFlags struct {
	id       string
	provider string
	label    string
	zoneID   string
	zoneName string
}

var dnsCredUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Create or update a DNS credential profile's metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		p := ports.DnsCredentialProfile{
			ID: dnsCredUpsertFlags.id, Provider: dnsCredUpsertFlags.provider,
			Label: dnsCredUpsertFlags.label, ZoneID: dnsCredUpsertFlags.zoneID, ZoneName: dnsCredUpsertFlags.zoneName,
		}
		if err := svc.Security.UpsertDNSCredential(cmd.Context(), p); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"id": p.ID}, func() { fmt.Printf("dns credential %s saved\n", p.ID) })
	},
}

var dnsCredListCmd = &cobra.Command{
	Use:   "list",
	Short: "List DNS credential profiles (metadata only, never the token)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		rows, err := svc.Security.ListDNSCredentials(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(rows, func() {
			for _, r := range rows {
				fmt.Printf("%-12s  provider=%-12s  label=%-20s  zone=%s\n", r.ID, r.Provider, r.Label, r.ZoneName)
			}
		})
	},
}

var dnsCredDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a DNS credential profile's metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Security.DeleteDNSCredential(cmd.Context(), args[0]); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"deleted": args[0]}, func() { fmt.Printf("deleted %s\n", args[0]) })
	},
}

func init() {
	dnsCredUpsertCmd.Flags().StringVar(&dnsCredUpsertFlags.id, "id", "", "credential profile id")
	dnsCredUpsertCmd.Flags().StringVar(&dnsCredUpsertFlags.provider, "provider", "cloudflare", "dns provider")
	dnsCredUpsertCmd.Flags().StringVar(&dnsCredUpsertFlags.label, "label", "", "human-readable label")
	dnsCredUpsertCmd.Flags().StringVar(&dnsCredUpsertFlags.zoneID, "zone-id", "", "provider zone id")
	dnsCredUpsertCmd.Flags().StringVar(&dnsCredUpsertFlags.zoneName, "zone-name", "", "provider zone name")
	dnsCredentialsCmd.AddCommand(dnsCredUpsertCmd, dnsCredListCmd, dnsCredDeleteCmd)
	securityCmd.AddCommand(dnsCredentialsCmd)
}
