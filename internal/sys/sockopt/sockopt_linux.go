//go:build linux

package sockopt

import (
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listen walks socket → setsockopt → bind → listen by hand so that the backlog
// reaches the kernel unchanged; net.Listen always uses somaxconn.
func listen(network, address string, backlog int) (net.Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}

	family, sockaddr := toSockaddr(network, tcpAddr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sockaddr); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	// net.FileListener dups the descriptor; the original is closed with file.
	file := os.NewFile(uintptr(fd), "tcp-listener")
	defer file.Close()
	return net.FileListener(file)
}

func toSockaddr(network string, addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); network == "tcp4" || (network == "tcp" && (addr.IP == nil || ip4 != nil)) {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return unix.AF_INET, sa
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return unix.AF_INET6, sa
}
