//go:build linux

package pbench

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const quickAckSupported = true

func setQuickAck(conn syscall.Conn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	if err := raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	}); err != nil {
		return err
	}
	return serr
}
