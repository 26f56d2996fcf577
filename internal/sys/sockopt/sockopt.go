// Package sockopt creates listening sockets with SO_REUSEADDR set before bind
// and an explicit listen backlog.
package sockopt

import (
	"fmt"
	"net"
)

// DefaultBacklog is the backlog passed to listen(2). Linux treats 0 as room for
// a single pending connection.
const DefaultBacklog = 0

// Listen binds a TCP listener on address. network must be "tcp", "tcp4" or "tcp6".
func Listen(network, address string, backlog int) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("sockopt: unsupported network '%s'", network)
	}
	if backlog < 0 {
		return nil, fmt.Errorf("sockopt: negative backlog %d", backlog)
	}
	l, err := listen(network, address, backlog)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return l, nil
}
