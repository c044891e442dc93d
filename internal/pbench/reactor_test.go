package pbench

import (
	"context"
	"net"
	"testing"
	"time"

	gerrors "github.com/panjf2000/gnet/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenReactor(t *testing.T, opts ServerOptions) (Server, net.Addr) {
	t.Helper()
	if opts.Sink == nil {
		opts.Sink = func(ConnResult) {}
	}
	opts.Socket = DefaultSocketOptions
	server, err := NewServer(ModelReactor, opts)
	require.NoError(t, err)
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)
	return server, addr
}

func serveUntil(server Server) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	return cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestReactorListenReturnsBoundPort(t *testing.T) {
	server, addr := listenReactor(t, ServerOptions{})
	cancel, done := serveUntil(server)
	defer waitStopped(t, done)
	defer cancel()

	tcp, ok := addr.(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, tcp.Port)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	assert.NoError(t, Exchange(conn, make([]byte, ResponseSize)))
}

func TestReactorInstancesStopIndependently(t *testing.T) {
	first, firstAddr := listenReactor(t, ServerOptions{})
	second, secondAddr := listenReactor(t, ServerOptions{})
	require.NotEqual(t, firstAddr.String(), secondAddr.String())

	cancelFirst, firstDone := serveUntil(first)
	cancelSecond, secondDone := serveUntil(second)
	defer waitStopped(t, secondDone)
	defer cancelSecond()

	cancelFirst()
	waitStopped(t, firstDone)

	conn, err := net.Dial("tcp", secondAddr.String())
	require.NoError(t, err)
	defer conn.Close()
	assert.NoError(t, Exchange(conn, make([]byte, ResponseSize)))
}

func TestReactorStopsWhenCancelledBeforeServe(t *testing.T) {
	for i := 0; i < 20; i++ {
		server, addr := listenReactor(t, ServerOptions{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, server.Serve(ctx))

		// The port is released once Serve returns.
		ln, err := net.Listen("tcp", addr.String())
		require.NoError(t, err)
		require.NoError(t, ln.Close())
	}
}

func TestReactorShutdownIsNotAConnectionError(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	results := make(chan ConnResult, 1)
	server, addr := listenReactor(t, ServerOptions{Metrics: m, Sink: func(r ConnResult) { results <- r }})
	cancel, done := serveUntil(server)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, Exchange(conn, make([]byte, ResponseSize)))

	cancel()
	waitStopped(t, done)

	select {
	case r := <-results:
		assert.Equal(t, uint64(1), r.Exchanges)
	case <-time.After(5 * time.Second):
		t.Fatal("no connection result")
	}
	l := ModelReactor.String()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionErrors.WithLabelValues(l)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionsActive.WithLabelValues(l)))
}

func TestShutdownErrorsAreNotCounted(t *testing.T) {
	assert.NoError(t, countedErr(net.ErrClosed))
	assert.NoError(t, countedErr(gerrors.ErrServerShutdown))
	assert.ErrorIs(t, countedErr(assert.AnError), assert.AnError)
}
