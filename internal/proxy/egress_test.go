package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

func TestNewEgressDialer_Direct(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dial := newEgressDialer(ports.EgressConfig{Mode: ports.EgressDirect})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestSocksDialer_FailOpenFallsBackToDirect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// No SOCKS5 server is listening on this unused port, so the dialer must
	// fail open to a direct dial of the real target.
	dial := socksDialer("127.0.0.1:1", &net.Dialer{Timeout: time.Second}, true)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := dial(ctx, "tcp", ln.Addr().String())
	require.NoError(t, err)
	conn.Close()
}

func TestSocksDialer_FailClosedReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	dial := socksDialer("127.0.0.1:1", &net.Dialer{Timeout: time.Second}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err = dial(ctx, "tcp", ln.Addr().String())
	assert.Error(t, err)
}

func TestNewEgressDialer_TorUsesDefaultSocksAddr(t *testing.T) {
	dial := newEgressDialer(ports.EgressConfig{Mode: ports.EgressTor, FailOpen: true})
	assert.NotNil(t, dial)
}

func TestNewEgressDialer_CustomSocks(t *testing.T) {
	dial := newEgressDialer(ports.EgressConfig{Mode: ports.EgressCustomSocks, Endpoint: "127.0.0.1:1080", FailOpen: true})
	assert.NotNil(t, dial)
}
