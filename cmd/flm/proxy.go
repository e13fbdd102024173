package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Unjuno/FLM-sub001/internal/ports"
	"github.com/Unjuno/FLM-sub001/internal/runtime"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Start, stop, and inspect the reverse proxy",
}

func init() {
	rootCmd.AddCommand(proxyCmd)
}

var startFlags struct {
	mode          string
	listenAddr    string
	port          int
	acmeDomain    string
	acmeEmail     string
	acmeChallenge string
	acmeDNSProfile string
	egressMode    string
	egressEndpoint string
	detach        bool
}

var proxyStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new proxy handle",
	RunE:  runProxyStart,
}

func init() {
	proxyCmd.AddCommand(proxyStartCmd)
	f := proxyStartCmd.Flags()
	f.StringVar(&startFlags.mode, "mode", string(ports.ModeLocalHTTP), "local_http, dev_self_signed, https_acme, packaged_ca")
	f.StringVar(&startFlags.listenAddr, "listen-addr", "127.0.0.1", "address to bind")
	f.IntVar(&startFlags.port, "port", 8443, "plaintext (or base) port")
	f.StringVar(&startFlags.acmeDomain, "acme-domain", "", "domain for https_acme mode")
	f.StringVar(&startFlags.acmeEmail, "acme-email", "", "contact email for https_acme mode")
	f.StringVar(&startFlags.acmeChallenge, "acme-challenge", string(ports.ChallengeHTTP01), "http-01 or dns-01")
	f.StringVar(&startFlags.acmeDNSProfile, "acme-dns-profile", "", "dns credential profile id for dns-01")
	f.StringVar(&startFlags.egressMode, "egress-mode", string(ports.EgressDirect), "direct, tor, custom_socks5")
	f.StringVar(&startFlags.egressEndpoint, "egress-endpoint", "", "socks5 endpoint for custom_socks5 egress")
	f.BoolVar(&startFlags.detach, "detach", true, "run in the background (default) instead of blocking")
}

func buildProxyConfig() ports.ProxyConfig {
	return ports.ProxyConfig{
		Mode: ports.ProxyMode(startFlags.mode), ListenAddr: startFlags.listenAddr, Port: startFlags.port,
		AcmeDomain: startFlags.acmeDomain, AcmeEmail: startFlags.acmeEmail,
		AcmeChallenge: ports.AcmeChallenge(startFlags.acmeChallenge), AcmeDNSProfile: startFlags.acmeDNSProfile,
		Egress: ports.EgressConfig{Mode: ports.EgressMode(startFlags.egressMode), Endpoint: startFlags.egressEndpoint},
	}
}

func runtimeOptions() runtime.Options {
	return runtime.Options{DataDir: globalFlags.dataDir}
}

func runProxyStart(cmd *cobra.Command, args []string) error {
	cfg := buildProxyConfig()

	if !startFlags.detach {
		handle, err := runtime.RunForeground(cmd.Context(), runtimeOptions(), cfg, "")
		if err != nil {
			return emitError(err)
		}
		return emitData(handle, func() { printHandle(*handle) })
	}

	args2 := proxyStartArgsFromFlags()
	pid, err := runtime.StartDetached(args2)
	if err != nil {
		return emitError(err)
	}
	return emitData(map[string]any{"pid": pid}, func() { fmt.Printf("started proxy in background (pid=%d)\n", pid) })
}

func proxyStartArgsFromFlags() []string {
	return []string{
		"--data-dir", globalFlags.dataDir,
		"--mode", startFlags.mode,
		"--listen-addr", startFlags.listenAddr,
		"--port", fmt.Sprint(startFlags.port),
		"--acme-domain", startFlags.acmeDomain,
		"--acme-email", startFlags.acmeEmail,
		"--acme-challenge", startFlags.acmeChallenge,
		"--acme-dns-profile", startFlags.acmeDNSProfile,
		"--egress-mode", startFlags.egressMode,
		"--egress-endpoint", startFlags.egressEndpoint,
	}
}

// proxyRunCmd is the hidden command StartDetached's child process invokes;
// it blocks in the foreground and is never meant to be run directly by an
// operator, mirroring caddy's hidden `caddy run --pingback`.
var runFlags struct {
	pingback string
	detached bool
}

var proxyRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildProxyConfig()
		_, err := runtime.RunForeground(cmd.Context(), runtimeOptions(), cfg, runFlags.pingback)
		return err
	},
}

func init() {
	proxyCmd.AddCommand(proxyRunCmd)
	f := proxyRunCmd.Flags()
	f.StringVar(&startFlags.mode, "mode", string(ports.ModeLocalHTTP), "")
	f.StringVar(&startFlags.listenAddr, "listen-addr", "127.0.0.1", "")
	f.IntVar(&startFlags.port, "port", 8443, "")
	f.StringVar(&startFlags.acmeDomain, "acme-domain", "", "")
	f.StringVar(&startFlags.acmeEmail, "acme-email", "", "")
	f.StringVar(&startFlags.acmeChallenge, "acme-challenge", string(ports.ChallengeHTTP01), "")
	f.StringVar(&startFlags.acmeDNSProfile, "acme-dns-profile", "", "")
	f.StringVar(&startFlags.egressMode, "egress-mode", string(ports.EgressDirect), "")
	f.StringVar(&startFlags.egressEndpoint, "egress-endpoint", "", "")
	f.StringVar(&runFlags.pingback, "pingback", "", "address to confirm successful start to")
	f.BoolVar(&runFlags.detached, "detached", false, "set by the parent process, informational only")
}

var proxyStopCmd = &cobra.Command{
	Use:   "stop [handle-id]",
	Short: "Stop a running proxy handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Proxy.Stop(cmd.Context(), args[0]); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"stopped": args[0]}, func() { fmt.Printf("stopped %s\n", args[0]) })
	},
}

var proxyReloadCmd = &cobra.Command{
	Use:   "reload [handle-id]",
	Short: "Reload security policy on a running proxy handle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		if err := svc.Proxy.ReloadConfig(cmd.Context(), args[0]); err != nil {
			return emitError(err)
		}
		return emitData(map[string]any{"reloaded": args[0]}, func() { fmt.Printf("reloaded %s\n", args[0]) })
	},
}

var proxyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List every known proxy handle",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := runtime.Open(cmd.Context(), runtimeOptions())
		if err != nil {
			return emitError(err)
		}
		defer svc.Close(cmd.Context())
		handles, err := svc.Proxy.Status(cmd.Context())
		if err != nil {
			return emitError(err)
		}
		return emitData(handles, func() {
			for _, h := range handles {
				printHandle(h)
			}
		})
	},
}

func init() {
	proxyCmd.AddCommand(proxyStopCmd, proxyReloadCmd, proxyStatusCmd)
}

func printHandle(h ports.ProxyHandle) {
	state := "stopped"
	if h.Running {
		state = "running"
	}
	fmt.Printf("%s  %-8s  %s:%d  mode=%s  %s\n", h.ID, state, h.ListenAddr, h.Port, h.Mode, time.Now().Format(time.RFC3339))
}
