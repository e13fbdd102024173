package proxy

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/Unjuno/FLM-sub001/internal/ports"
)

// defaultTorSocksAddr is the SOCKS5 port the Tor daemon listens on locally
// by default; FLM never launches Tor itself, only dials it.
const defaultTorSocksAddr = "127.0.0.1:9050"

// dialContextFunc matches http.Transport.DialContext so an egress path can
// be dropped straight into a *http.Transport.
type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// newEgressDialer builds the dial function upstream requests use,
// implementing spec §4.5's egress dispatch: direct TCP, a SOCKS5 dial to
// the local Tor daemon, or a SOCKS5 dial to a configured custom endpoint.
// On SOCKS5 dial failure it honors FailOpen by retrying direct.
func newEgressDialer(cfg ports.EgressConfig) dialContextFunc {
	direct := &net.Dialer{Timeout: 10 * time.Second}

	switch cfg.Mode {
	case ports.EgressDirect:
		return direct.DialContext

	case ports.EgressTor:
		return socksDialer(defaultTorSocksAddr, direct, cfg.FailOpen)

	case ports.EgressCustomSocks:
		return socksDialer(cfg.Endpoint, direct, cfg.FailOpen)

	default:
		return direct.DialContext
	}
}

// socksDialer wraps golang.org/x/net/proxy's SOCKS5 dialer (RFC 1928)
// around addr, falling back to direct dialing when failOpen is set and the
// SOCKS5 dial fails.
func socksDialer(addr string, forward *net.Dialer, failOpen bool) dialContextFunc {
	return func(ctx context.Context, network, target string) (net.Conn, error) {
		d, err := proxy.SOCKS5("tcp", addr, nil, forward)
		if err != nil {
			if failOpen {
				return forward.DialContext(ctx, network, target)
			}
			return nil, err
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			conn, err := cd.DialContext(ctx, network, target)
			if err != nil && failOpen {
				return forward.DialContext(ctx, network, target)
			}
			return conn, err
		}
		conn, err := d.Dial(network, target)
		if err != nil && failOpen {
			return forward.DialContext(ctx, network, target)
		}
		return conn, err
	}
}
