//go:build unix && !linux

package sockopt

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listen relies on the runtime backlog; only the reuse option is applied here.
func listen(network, address string, _ int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	return lc.Listen(context.Background(), network, address)
}
