package orchestrator

import (
	"net"
	"strconv"
)

// PortAvailable reports whether host:port can be bound right now.
func PortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// FindFreePort returns port if it is free, otherwise the first free port
// in port+1 .. port+window-1.
func FindFreePort(host string, port, window int) (int, error) {
	if window < 1 {
		window = 1
	}
	for p := port; p < port+window && p <= 65535; p++ {
		if PortAvailable(host, p) {
			return p, nil
		}
	}
	return 0, ErrNoFreePort
}
