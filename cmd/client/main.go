package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alarmfox/pingbench/internal/pbench"
	log "github.com/sirupsen/logrus"
)

const totalExchanges = 1_000_000

var (
	addr        = flag.String("server-addr", "localhost:3000", "Address of the running server")
	clients     = flag.Uint("clients", 1, "Number of concurrent clients")
	model       = flag.String("model", "thread", "Client workers: thread or task")
	perExchange = flag.Bool("per-exchange", false, "Time every exchange separately and sum")
	logLevel    = flag.String("log-level", "warn", "Log level")
)

type Config struct {
	addr        string
	clients     uint
	model       pbench.Model
	perExchange bool
	exchanges   uint64
}

func main() {
	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	m, err := pbench.ParseModel(*model)
	if err != nil {
		log.Fatal(err)
	}

	c := Config{
		addr:        *addr,
		clients:     *clients,
		model:       m,
		perExchange: *perExchange,
		exchanges:   totalExchanges,
	}

	log.Debugf("%+v", c)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	if err := run(ctx, c, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(ctx context.Context, c Config, w io.Writer) error {
	if c.clients == 0 {
		return pbench.ErrInvalidConnections
	}

	share := c.exchanges / uint64(c.clients)
	for i := uint(0); i < c.clients; i++ {
		fmt.Fprintf(w, "Running client %d with %d pings...\n", i, share)
	}
	fmt.Fprintln(w)

	harness := pbench.NewHarness(c.model)
	harness.PerExchange = c.perExchange

	trial, err := harness.RunTrial(ctx, c.addr, int(c.clients), c.exchanges)
	if err != nil {
		return err
	}

	for _, client := range trial.Clients {
		fmt.Fprintf(w, "Client %d: %.2f pings/sec\n", client.ID, client.Rate())
	}

	average, err := trial.AverageRate()
	if err != nil {
		return err
	}
	aggregate, err := trial.AggregateRate()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nAverage: %.2f pings/sec\n", average)
	fmt.Fprintf(w, "Aggregate: %.2f pings/sec\n", aggregate)
	return nil
}
