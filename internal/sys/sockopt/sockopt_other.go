//go:build !unix

package sockopt

import "net"

func listen(network, address string, _ int) (net.Listener, error) {
	return net.Listen(network, address)
}
