package runtime

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// RunForeground opens a Services aggregate, starts the given proxy config,
// and blocks until ctx is canceled (typically by an interrupt/terminate
// signal), at which point it gracefully stops the handle and closes every
// service. This is what both `flm proxy run` (hidden, used internally by
// StartDetached's child) and an operator's direct foreground invocation
// call. Grounded on Caddy's cmdRun, which also just opens, serves, and
// blocks on signal/context cancellation.
func RunForeground(ctx context.Context, opts Options, cfg ports.ProxyConfig, pingback string) (*ports.ProxyHandle, error) {
	svc, err := Open(ctx, opts)
	if err != nil {
		return nil, err
	}

	handle, err := svc.Proxy.Start(ctx, cfg)
	if err != nil {
		_ = svc.Close(ctx)
		return nil, err
	}

	if pingback != "" {
		if err := confirmPingback(pingback); err != nil {
			svc.Logger.Warn("pingback confirmation failed", zap.Error(err))
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := svc.Proxy.Stop(shutdownCtx, handle.ID); err != nil {
		svc.Logger.Warn("error stopping proxy handle during shutdown", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		return handle, err
	}
	return handle, nil
}

// confirmPingback dials the parent's confirmation listener and echoes back
// the bytes it piped in over our stdin, the same handshake
// caddyserver-caddy's cmdStart/cmdRun pair use to let a detached start
// block until the child is actually serving instead of racing on cmd.Start
// returning.
func confirmPingback(addr string) error {
	confirmationBytes, err := io.ReadAll(io.LimitReader(os.Stdin, 32))
	if err != nil {
		return fmt.Errorf("reading confirmation bytes from stdin: %w", err)
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing pingback listener: %w", err)
	}
	defer conn.Close()
	_, err = conn.Write(confirmationBytes)
	return err
}

// StartDetached self-execs the current binary in the background with
// `proxy run --detached --pingback <addr>` plus the given extra args
// (typically flags re-describing cfg), and blocks only until the child
// confirms it has successfully bound its listeners, per spec §4.5's "start
// detached, confirm success before returning" requirement. Grounded
// directly on caddyserver-caddy/cmd/commandfuncs.go's cmdStart.
func StartDetached(extraArgs []string) (pid int, err error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("opening pingback listener: %w", err)
	}
	defer ln.Close()

	args := append([]string{"proxy", "run", "--detached", "--pingback", ln.Addr().String()}, extraArgs...)
	cmd := exec.Command(os.Args[0], args...)
	if errors.Is(cmd.Err, exec.ErrDot) {
		cmd.Err = nil
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("creating stdin pipe: %w", err)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	expect := make([]byte, 32)
	if _, err := rand.Read(expect); err != nil {
		return 0, fmt.Errorf("generating confirmation bytes: %w", err)
	}
	go func() {
		_, _ = stdinPipe.Write(expect)
		stdinPipe.Close()
	}()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting detached process: %w", err)
	}

	success, exit := make(chan struct{}), make(chan error, 1)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					return
				}
				break
			}
			if handlePingbackConn(conn, expect) == nil {
				close(success)
				return
			}
		}
	}()
	go func() {
		exit <- cmd.Wait()
	}()

	select {
	case <-success:
		return cmd.Process.Pid, nil
	case err := <-exit:
		return 0, fmt.Errorf("proxy process exited before confirming start: %w", err)
	}
}

func handlePingbackConn(conn net.Conn, expect []byte) error {
	defer conn.Close()
	got, err := io.ReadAll(io.LimitReader(conn, 32))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, expect) {
		return fmt.Errorf("wrong confirmation bytes: %x", got)
	}
	return nil
}
