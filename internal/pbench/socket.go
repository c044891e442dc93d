package pbench

import (
	"fmt"
	"net"
)

// SocketOptions are applied once to every connection before the first exchange.
type SocketOptions struct {
	// NoDelay disables Nagle's algorithm.
	NoDelay bool
	// QuickAck asks the kernel not to delay acknowledgements. Linux only,
	// ignored elsewhere.
	QuickAck bool
}

// DefaultSocketOptions is what clients and benchmark servers use.
var DefaultSocketOptions = SocketOptions{NoDelay: true}

func configureConn(conn net.Conn, opts SocketOptions) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		return fmt.Errorf("set nodelay: %w", err)
	}
	if opts.QuickAck {
		if err := setQuickAck(tc); err != nil {
			return fmt.Errorf("set quickack: %w", err)
		}
	}
	return nil
}
