//go:build linux || darwin || freebsd || netbsd || openbsd

// File: server/listen_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlSocket sets SO_REUSEADDR so a restarted relay can rebind while old
// connections sit in TIME_WAIT.
func controlSocket(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
