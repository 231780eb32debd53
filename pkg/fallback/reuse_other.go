//go:build !unix

package fallback

import "syscall"

func reuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}
