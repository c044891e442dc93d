package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alarmfox/pingbench/internal/pbench"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	addr        = flag.String("listen-addr", "localhost:3000", "Listen address for TCP server")
	model       = flag.String("model", "task", "Concurrency model: thread, task or reactor")
	quickAck    = flag.Bool("quickack", true, "Disable delayed acknowledgements on accepted connections (Linux)")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address if set")
	logLevel    = flag.String("log-level", "info", "Log level")
)

type Config struct {
	addr        string
	model       pbench.Model
	quickAck    bool
	metricsAddr string
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
		model:       m,
		quickAck:    *quickAck,
		metricsAddr: *metricsAddr,
	}

	log.Printf("%+v", c)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := run(ctx, c, nil); err != nil {
		log.Fatal(err)
	}
}

// run serves until ctx is done. listening, if set, receives the bound
// address before the first connection is accepted.
func run(ctx context.Context, c Config, listening func(net.Addr)) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := pbench.NewMetrics(reg)

	socket := pbench.DefaultSocketOptions
	socket.QuickAck = c.quickAck
	server, err := pbench.NewServer(c.model, pbench.ServerOptions{
		Socket:         socket,
		LogConnections: true,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	bound, err := server.Listen(c.addr)
	if err != nil {
		return err
	}
	log.WithField("model", c.model).Infof("server listening on %s", bound)
	if listening != nil {
		listening(bound)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ctx)
	})

	if c.metricsAddr != "" {
		srv := &http.Server{
			Addr:    c.metricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			log.Infof("metrics on %s", c.metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
