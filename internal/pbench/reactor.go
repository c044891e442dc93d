package pbench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/gnet"
	gerrors "github.com/panjf2000/gnet/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// stopRetryInterval paces gnet.Stop while the server is not yet registered.
	stopRetryInterval = 5 * time.Millisecond
	stopTimeout       = 10 * time.Second
)

// reactorServer answers requests from gnet event handler callbacks. There is
// no per connection goroutine: each event loop owns many connections and the
// reply is returned straight from React.
type reactorServer struct {
	*gnet.EventServer

	opts     ServerOptions
	metrics  *modelMetrics
	response []byte

	protoAddr string
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
	done      chan error
}

// reactorConn is the per connection state stored in the gnet.Conn context.
// It is only touched from the connection's event loop.
type reactorConn struct {
	exchanges uint64
}

func newReactorServer(opts ServerOptions) *reactorServer {
	return &reactorServer{
		EventServer: &gnet.EventServer{},
		opts:        opts,
		metrics:     opts.Metrics.forModel(ModelReactor),
		response:    NewResponse(),
		ready:       make(chan struct{}),
		done:        make(chan error, 1),
	}
}

func (s *reactorServer) Listen(addr string) (net.Addr, error) {
	bound, err := reservePort(addr)
	if err != nil {
		return nil, err
	}
	s.protoAddr = "tcp://" + bound.String()
	nodelay := gnet.TCPDelay
	if s.opts.Socket.NoDelay {
		nodelay = gnet.TCPNoDelay
	}
	go func() {
		s.done <- gnet.Serve(s, s.protoAddr,
			gnet.WithMulticore(true),
			gnet.WithReusePort(false),
			gnet.WithTCPNoDelay(nodelay),
			gnet.WithTicker(true),
			gnet.WithLogger(log.WithField("model", ModelReactor)),
		)
	}()
	select {
	case <-s.ready:
		s.addr = bound
		return bound, nil
	case err := <-s.done:
		return nil, err
	}
}

// reservePort resolves addr to a concrete port. gnet reports the address it
// was asked for, so ":0" would never be dialable and every instance would
// share the same gnet.Stop key.
func reservePort(addr string) (*net.TCPAddr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	bound := ln.Addr().(*net.TCPAddr)
	return bound, ln.Close()
}

func (s *reactorServer) Serve(ctx context.Context) error {
	if s.addr == nil {
		return ErrNotListening
	}
	select {
	case <-ctx.Done():
		return s.stop()
	case err := <-s.done:
		return err
	}
}

// stop shuts the event loops down. gnet registers the server for Stop only
// after its event loops have started, so a cancel that lands right after
// Listen can find nothing and has to try again.
func (s *reactorServer) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	ticker := time.NewTicker(stopRetryInterval)
	defer ticker.Stop()
	for {
		err := gnet.Stop(ctx, s.protoAddr)
		if err == nil {
			return <-s.done
		}
		if !errors.Is(err, gerrors.ErrServerInShutdown) {
			return fmt.Errorf("stop %s: %w", s.protoAddr, err)
		}
		select {
		case err := <-s.done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("stop %s: %w", s.protoAddr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Tick first fires once the event loops are running, which is as late as
// gnet lets us observe startup.
func (s *reactorServer) Tick() (time.Duration, gnet.Action) {
	s.readyOnce.Do(func() { close(s.ready) })
	return time.Hour, gnet.None
}

func (s *reactorServer) OnOpened(c gnet.Conn) ([]byte, gnet.Action) {
	entry := log.WithFields(log.Fields{"model": ModelReactor, "remote": c.RemoteAddr()})
	if s.opts.LogConnections {
		entry.Info("handling new connection")
	} else if log.IsLevelEnabled(log.DebugLevel) {
		entry.Debug("handling new connection")
	}
	s.metrics.opened()
	c.SetContext(&reactorConn{})
	return nil, gnet.None
}

func (s *reactorServer) OnClosed(c gnet.Conn, err error) gnet.Action {
	result := ConnResult{Model: ModelReactor, Remote: c.RemoteAddr(), Err: err}
	if rc, ok := c.Context().(*reactorConn); ok {
		result.Exchanges = rc.exchanges
	}
	s.metrics.closed(countedErr(err))
	s.opts.Sink(result)
	return gnet.None
}

// React receives whatever bytes are buffered on the connection. Every byte is
// one request, so a well behaved client only ever delivers one at a time.
func (s *reactorServer) React(packet []byte, c gnet.Conn) ([]byte, gnet.Action) {
	n := len(packet)
	if n == 0 {
		return nil, gnet.None
	}
	if rc, ok := c.Context().(*reactorConn); ok {
		rc.exchanges += uint64(n)
	}
	for i := 0; i < n; i++ {
		s.metrics.exchange()
	}
	if n == 1 {
		return s.response, gnet.None
	}
	return bytes.Repeat(s.response, n), gnet.None
}
