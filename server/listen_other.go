//go:build !(linux || darwin || freebsd || netbsd || openbsd)

// File: server/listen_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "syscall"

func controlSocket(network, address string, c syscall.RawConn) error {
	return nil
}
