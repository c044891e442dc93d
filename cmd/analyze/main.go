package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/alarmfox/pingbench/internal/pbench"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	inputDirectory = flag.String("input-directory", "", "Directory of report files written by bench")
	outputFile     = flag.String("output-file", "", "Output file, stdout if empty")
	concurrency    = flag.Uint("concurrency", 1, "Number of files to read concurrently")
)

type Config struct {
	inputDirectory string
	outputFile     string
	concurrency    uint
}

func main() {
	flag.Parse()
	c := Config{
		inputDirectory: *inputDirectory,
		outputFile:     *outputFile,
		concurrency:    *concurrency,
	}
	if err := run(c); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}

}

func run(c Config) error {
	if c.concurrency == 0 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	directory, err := os.ReadDir(c.inputDirectory)
	if err != nil {
		return err
	}

	var inFiles []string
	for _, content := range directory {
		if !content.IsDir() && content.Type().IsRegular() && strings.HasSuffix(content.Name(), ".csv") {
			inFiles = append(inFiles, filepath.Join(c.inputDirectory, content.Name()))
		}
	}

	ctx, canc := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer canc()
	g, ctx := errgroup.WithContext(ctx)

	files := make(chan string, len(inFiles))
	for _, file := range inFiles {
		files <- file
	}
	close(files)

	reports := make(chan []pbench.BenchResult, len(inFiles))

	workers, _ := errgroup.WithContext(ctx)
	for i := 0; i < int(c.concurrency); i++ {
		workers.Go(func() error {
			for file := range files {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				results, err := process(file)
				if err != nil {
					log.WithField("file", file).Warn(err)
					continue
				}
				reports <- results
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(reports)
		return workers.Wait()
	})

	var all []pbench.BenchResult
	g.Go(func() error {
		for results := range reports {
			all = append(all, results...)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	var writer io.Writer = os.Stdout
	if c.outputFile != "" {
		f, err := os.Create(c.outputFile)
		if err != nil {
			return err
		}
		defer f.Close()
		writer = f
	}
	return write(writer, pbench.Compare(all))
}

func process(file string) ([]pbench.BenchResult, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q: %v", file, err)
	}
	defer f.Close()
	return pbench.ReadCSV(f)
}

func write(w io.Writer, comparisons []pbench.Comparison) error {
	csvWriter := csv.NewWriter(w)
	csvWriter.Comma = ';'

	header := []string{"connections", "fastest", "slowest", "ratio"}
	for _, m := range pbench.Models {
		header = append(header, m.String()+"_ns", m.String()+"_runs")
	}
	if err := csvWriter.Write(header); err != nil {
		return err
	}

	for _, cmp := range comparisons {
		row := []string{
			strconv.Itoa(cmp.Connections),
			cmp.Fastest.String(),
			cmp.Slowest.String(),
			strconv.FormatFloat(cmp.Ratio, 'f', 3, 64),
		}
		for _, m := range pbench.Models {
			mean, ok := cmp.Mean[m]
			if !ok {
				row = append(row, "", "0")
				continue
			}
			row = append(row, strconv.FormatFloat(mean, 'f', 2, 64), strconv.Itoa(cmp.Runs[m]))
		}
		if err := csvWriter.Write(row); err != nil {
			log.Print(err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}
