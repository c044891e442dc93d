package pbench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidConnections = errors.New("connection count must be at least 1")
	ErrNoThroughput       = errors.New("no throughput measured")
)

// ClientResult is what one harness worker measured.
type ClientResult struct {
	ID            int
	Exchanges     uint64
	Elapsed       time.Duration
	BytesReceived uint64
}

// Rate is the client's exchanges per second.
func (c ClientResult) Rate() float64 {
	if c.Elapsed <= 0 {
		return 0
	}
	return float64(c.Exchanges) / c.Elapsed.Seconds()
}

// Trial is one timed run of the harness.
type Trial struct {
	Model       Model
	Connections int
	Requested   uint64
	Clients     []ClientResult
	// Mean is the sum of the client durations divided by the connection count.
	Mean time.Duration
	// Wall covers the whole fan-out, connects included.
	Wall time.Duration
}

// Performed is the number of exchanges actually made. Requested is split by
// integer division, so the remainder is never sent.
func (t Trial) Performed() uint64 {
	var n uint64
	for _, c := range t.Clients {
		n += c.Exchanges
	}
	return n
}

// Total is the sum of the client durations.
func (t Trial) Total() time.Duration {
	var d time.Duration
	for _, c := range t.Clients {
		d += c.Elapsed
	}
	return d
}

// AverageRate is the performed exchanges over the summed client durations.
// Each client's time counts once, so with concurrent clients this is a
// per-client rate rather than the rate the server saw.
func (t Trial) AverageRate() (float64, error) {
	return rate(t.Performed(), t.Total())
}

// AggregateRate is the performed exchanges over the wall-clock time of the
// whole trial.
func (t Trial) AggregateRate() (float64, error) {
	return rate(t.Performed(), t.Wall)
}

func rate(exchanges uint64, d time.Duration) (float64, error) {
	if exchanges == 0 || d <= 0 {
		return 0, fmt.Errorf("%d exchanges in %s: %w", exchanges, d, ErrNoThroughput)
	}
	r := float64(exchanges) / d.Seconds()
	if math.IsInf(r, 0) || math.IsNaN(r) || r <= 0 {
		return 0, fmt.Errorf("%d exchanges in %s: %w", exchanges, d, ErrNoThroughput)
	}
	return r, nil
}

// Harness opens concurrent client connections to a server and drives
// exchanges over them.
type Harness struct {
	// Model selects the client workers: pinned OS threads for ModelThread,
	// goroutines otherwise.
	Model Model
	// PerExchange times each exchange separately and sums the results instead
	// of timing the whole share in one go.
	PerExchange bool

	buffers *Pool[[]byte]
	dialer  net.Dialer
}

func NewHarness(model Model) *Harness {
	return &Harness{
		Model:   model,
		buffers: newBufferPool(),
	}
}

// Run performs one trial and returns the mean per connection duration.
func (h *Harness) Run(ctx context.Context, addr string, connections int, exchanges uint64) (time.Duration, error) {
	t, err := h.RunTrial(ctx, addr, connections, exchanges)
	if err != nil {
		return 0, err
	}
	return t.Mean, nil
}

// RunTrial splits exchanges evenly over connections workers, each with its
// own connection, and waits for all of them. The first failing worker aborts
// the trial.
func (h *Harness) RunTrial(ctx context.Context, addr string, connections int, exchanges uint64) (Trial, error) {
	if connections < 1 {
		return Trial{}, ErrInvalidConnections
	}
	share := exchanges / uint64(connections)
	results := make([]ClientResult, connections)

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < connections; i++ {
		id := i
		g.Go(func() error {
			if h.Model.pinned() {
				runtime.LockOSThread()
			}
			r, err := h.client(ctx, addr, share)
			if err != nil {
				return fmt.Errorf("client %d: %w", id, err)
			}
			r.ID = id
			results[id] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Trial{}, err
	}

	t := Trial{
		Model:       h.Model,
		Connections: connections,
		Requested:   exchanges,
		Clients:     results,
		Wall:        time.Since(start),
	}
	t.Mean = t.Total() / time.Duration(connections)
	return t, nil
}

func (h *Harness) client(ctx context.Context, addr string, n uint64) (ClientResult, error) {
	conn, err := h.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ClientResult{}, err
	}
	defer conn.Close()

	// a sibling failing must unblock this worker
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := configureConn(conn, DefaultSocketOptions); err != nil {
		return ClientResult{}, err
	}

	var r ClientResult
	err = h.buffers.With(func(buf []byte) error {
		start := time.Now()
		for i := uint64(0); i < n; i++ {
			if h.PerExchange {
				start = time.Now()
			}
			if err := Exchange(conn, buf); err != nil {
				return err
			}
			if h.PerExchange {
				r.Elapsed += time.Since(start)
			}
			r.Exchanges++
		}
		if !h.PerExchange {
			r.Elapsed = time.Since(start)
		}
		return nil
	})
	r.BytesReceived = r.Exchanges * ResponseSize
	if err != nil {
		return r, err
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"model":     h.Model,
			"exchanges": r.Exchanges,
			"elapsed":   r.Elapsed,
		}).Debug("client done")
	}
	return r, nil
}
