//go:build !linux

package pbench

import "syscall"

const quickAckSupported = false

func setQuickAck(syscall.Conn) error {
	return nil
}
