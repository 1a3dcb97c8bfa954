package transport

import (
	"fmt"
	"strings"
)

// Network names of the supported transports
const (
	NetworkTCP  = "tcp"
	NetworkUnix = "unix"
)

// Endpoint is a parsed bind or connect address
type Endpoint struct {
	Network string // NetworkTCP or NetworkUnix
	Address string // host:port or socket path
}

// ParseEndpoint parses an endpoint string.
//
//	unix:/run/dlock.sock  ->  unix socket /run/dlock.sock
//	/run/dlock.sock       ->  unix socket /run/dlock.sock
//	tcp:0.0.0.0:7000      ->  tcp 0.0.0.0:7000
//	localhost:7000        ->  tcp localhost:7000
func ParseEndpoint(endpoint string) (Endpoint, error) {
	endpoint = strings.TrimSpace(endpoint)

	var ep Endpoint
	switch {
	case strings.HasPrefix(endpoint, "unix:"):
		ep = Endpoint{Network: NetworkUnix, Address: strings.TrimPrefix(endpoint, "unix:")}
	case strings.HasPrefix(endpoint, "/"):
		ep = Endpoint{Network: NetworkUnix, Address: endpoint}
	case strings.HasPrefix(endpoint, "tcp:"):
		ep = Endpoint{Network: NetworkTCP, Address: strings.TrimPrefix(endpoint, "tcp:")}
	default:
		ep = Endpoint{Network: NetworkTCP, Address: endpoint}
	}

	if ep.Address == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: empty address", endpoint)
	}
	if ep.Network == NetworkTCP && !strings.Contains(ep.Address, ":") {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: expected host:port", endpoint)
	}
	return ep, nil
}

// String returns the endpoint in the form accepted by ParseEndpoint
func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}
