package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/alarmfox/pingbench/internal/config"
	"github.com/alarmfox/pingbench/internal/pbench"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	configFile = flag.String("config", "", "TOML configuration file")
	output     = flag.String("write", "", "CSV file to write the report to, overrides output.csv")
)

func main() {
	flag.Parse()

	c, err := config.Load(*configFile)
	if err != nil {
		log.Fatal(err)
	}
	if *output != "" {
		c.Output.CSV = *output
	}

	level, _ := log.ParseLevel(c.Logging.Level)
	log.SetLevel(level)

	log.Printf("%+v", *c)
	if err := run(c); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run(c *config.Config) error {
	ctx, canc := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer canc()

	bc := c.BenchConfig()
	bc.RunID = uuid.NewString()
	log.WithField("run", bc.RunID).Info("starting sweep")

	results, err := pbench.Bench(ctx, bc)
	if err != nil {
		return err
	}

	if err := pbench.WriteTable(os.Stdout, results); err != nil {
		return err
	}

	if c.Output.CSV == "" {
		return nil
	}
	f, err := os.Create(c.Output.CSV)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pbench.WriteCSV(f, results); err != nil {
		return err
	}
	return f.Close()
}
