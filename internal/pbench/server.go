package pbench

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"

	gerrors "github.com/panjf2000/gnet/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrNotListening = errors.New("server is not listening")

// Server is one concurrency model's implementation of the ping protocol.
type Server interface {
	// Listen binds addr. A bind failure is returned here, before anything is served.
	Listen(addr string) (net.Addr, error)
	// Serve services connections until ctx is done, in which case it returns nil,
	// or until accepting fails.
	Serve(ctx context.Context) error
}

type ServerOptions struct {
	Socket SocketOptions
	// LogConnections logs every accepted connection at info level instead of debug.
	LogConnections bool
	Metrics        *Metrics
	// Sink observes every finished connection. Defaults to LogSink.
	Sink ResultSink
}

// ConnResult is the outcome of one serviced connection. Err is nil when the
// peer closed the stream cleanly.
type ConnResult struct {
	Model     Model
	Remote    net.Addr
	Exchanges uint64
	Err       error
}

// ResultSink receives connection outcomes. Outcomes never flow back into the
// accept loop or sibling connections.
type ResultSink func(ConnResult)

// LogSink logs outcomes: clean closes at debug level, failures at warn level.
func LogSink(r ConnResult) {
	entry := log.WithFields(log.Fields{
		"model":     r.Model,
		"remote":    r.Remote,
		"exchanges": r.Exchanges,
	})
	switch {
	case r.Err == nil:
		entry.Debug("connection closed")
	case isShutdown(r.Err):
		entry.Debug("connection closed by shutdown")
	default:
		entry.WithError(r.Err).Warn("connection failed")
	}
}

func NewServer(model Model, opts ServerOptions) (Server, error) {
	if opts.Sink == nil {
		opts.Sink = LogSink
	}
	if opts.Socket.QuickAck && (!quickAckSupported || model == ModelReactor) {
		log.WithField("model", model).Warn("quick ack is not supported here, ignoring")
		opts.Socket.QuickAck = false
	}
	switch model {
	case ModelThread, ModelTask:
		return &listenerServer{
			model:    model,
			opts:     opts,
			metrics:  opts.Metrics.forModel(model),
			response: NewResponse(),
		}, nil
	case ModelReactor:
		return newReactorServer(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
}

// listenerServer runs an accept loop on a net.Listener and hands every
// connection to its own worker. For ModelThread the accept loop and every
// worker are pinned to OS threads and block in the kernel; for ModelTask they
// are goroutines parked by the runtime netpoller.
type listenerServer struct {
	model    Model
	opts     ServerOptions
	metrics  *modelMetrics
	response []byte
	ln       net.Listener
}

func (s *listenerServer) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.ln = ln
	return ln.Addr(), nil
}

func (s *listenerServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return ErrNotListening
	}
	supervisor := NewConnectionSupervisor(s.model.pinned())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.ln.Close()
		supervisor.CloseAll()
		return nil
	})

	g.Go(func() error {
		if s.model.pinned() {
			runtime.LockOSThread()
		}
		for {
			conn, err := s.ln.Accept()
			if errors.Is(err, net.ErrClosed) {
				return nil
			} else if err != nil {
				return fmt.Errorf("accept: %w", err)
			}
			s.logAccepted(conn)
			supervisor.Spawn(conn, s.handleConnection)
		}
	})

	err := g.Wait()
	supervisor.Wait()
	return err
}

func (s *listenerServer) logAccepted(conn net.Conn) {
	entry := log.WithFields(log.Fields{"model": s.model, "remote": conn.RemoteAddr()})
	if s.opts.LogConnections {
		entry.Info("handling new connection")
	} else if log.IsLevelEnabled(log.DebugLevel) {
		entry.Debug("handling new connection")
	}
}

func (s *listenerServer) handleConnection(conn net.Conn) {
	s.metrics.opened()
	result := ConnResult{Model: s.model, Remote: conn.RemoteAddr()}
	if err := configureConn(conn, s.opts.Socket); err != nil {
		result.Err = err
	} else {
		result.Exchanges, result.Err = Serve(conn, s.response, s.metrics.onExchange())
	}
	s.metrics.closed(countedErr(result.Err))
	s.opts.Sink(result)
}

func isShutdown(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, gerrors.ErrServerShutdown)
}

// countedErr drops errors caused by our own shutdown.
func countedErr(err error) error {
	if isShutdown(err) {
		return nil
	}
	return err
}
