package pbench

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// DefaultConnections is the connection count sweep.
var DefaultConnections = []int{1, 2, 4, 8, 16, 32, 64}

type BenchConfig struct {
	RunID       string
	Models      []Model
	Connections []int
	// Host is where fresh servers bind, on an ephemeral port.
	Host    string
	Socket  SocketOptions
	Sampler LinearSampler
	Metrics *Metrics
}

// BenchResult summarises the samples taken for one model at one connection
// count. Durations are nanoseconds per iteration.
type BenchResult struct {
	RunID       string
	Model       Model
	Connections int
	Samples     []Sample
	SampleCount int
	Mean        float64
	Median      float64
	StdDev      float64
	Min         float64
	Max         float64
	// Throughput is exchanges per second across all connections.
	Throughput float64
	Host       HostLoad
}

// Bench sweeps every model over every connection count. Each point gets its own
// server on a fresh ephemeral port. A failing trial aborts the whole sweep.
func Bench(ctx context.Context, c BenchConfig) ([]BenchResult, error) {
	if c.RunID == "" {
		c.RunID = uuid.NewString()
	}
	if len(c.Connections) == 0 {
		c.Connections = DefaultConnections
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}

	results := make([]BenchResult, 0, len(c.Models)*len(c.Connections))
	for _, model := range c.Models {
		for _, connections := range c.Connections {
			if connections < 1 {
				return results, ErrInvalidConnections
			}
			r, err := benchPoint(ctx, c, model, connections)
			if err != nil {
				return results, fmt.Errorf("%s/%d: %w", model, connections, err)
			}
			log.WithFields(log.Fields{
				"run":         c.RunID,
				"model":       model,
				"connections": connections,
				"mean":        time.Duration(r.Mean),
				"throughput":  r.Throughput,
			}).Info("benchmark point done")
			results = append(results, r)
		}
	}
	return results, nil
}

func benchPoint(ctx context.Context, c BenchConfig, model Model, connections int) (BenchResult, error) {
	server, err := NewServer(model, ServerOptions{Socket: c.Socket, Metrics: c.Metrics})
	if err != nil {
		return BenchResult{}, err
	}
	addr, err := server.Listen(net.JoinHostPort(c.Host, "0"))
	if err != nil {
		return BenchResult{}, fmt.Errorf("listen: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var g errgroup.Group
	g.Go(func() error {
		return server.Serve(serverCtx)
	})

	harness := NewHarness(model)
	sampler := c.Sampler
	sampler.Step = uint64(connections)
	samples, err := sampler.Sample(ctx, func(ctx context.Context, iters uint64) (time.Duration, error) {
		return harness.Run(ctx, addr.String(), connections, iters)
	})

	cancel()
	if serr := g.Wait(); serr != nil && err == nil {
		err = fmt.Errorf("server: %w", serr)
	}
	if err != nil {
		return BenchResult{}, err
	}

	r := summarize(samples, connections)
	r.RunID = c.RunID
	r.Model = model
	r.Host = SnapshotHost(ctx)
	return r, nil
}

func summarize(samples []Sample, connections int) BenchResult {
	perIter := make([]float64, 0, len(samples))
	rates := make([]float64, 0, len(samples))
	for _, s := range samples {
		perIter = append(perIter, float64(s.PerIteration()))
		performed := s.Iterations / uint64(connections) * uint64(connections)
		if s.Duration > 0 {
			rates = append(rates, float64(performed)/s.Duration.Seconds())
		}
	}
	r := BenchResult{
		Connections: connections,
		Samples:     samples,
		SampleCount: len(samples),
	}
	if len(perIter) == 0 {
		return r
	}
	sort.Float64s(perIter)
	r.Mean = stat.Mean(perIter, nil)
	r.Median = stat.Quantile(0.5, stat.Empirical, perIter, nil)
	if len(perIter) > 1 {
		r.StdDev = stat.StdDev(perIter, nil)
	}
	r.Min = floats.Min(perIter)
	r.Max = floats.Max(perIter)
	if len(rates) > 0 {
		r.Throughput = stat.Mean(rates, nil)
	}
	return r
}
