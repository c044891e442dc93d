package pbench

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"
)

var reportHeader = []string{
	"run_id",
	"model",
	"connections",
	"samples",
	"mean_ns",
	"median_ns",
	"stddev_ns",
	"min_ns",
	"max_ns",
	"throughput",
	"cpus",
	"load1",
	"load5",
	"load15",
}

// WriteTable prints results grouped by model, one row per connection count.
func WriteTable(w io.Writer, results []BenchResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "model\tconnections\tsamples\tmean\tmedian\tstddev\tmin\tmax\tpings/sec\t")
	var last Model
	for _, r := range results {
		if last != "" && r.Model != last {
			fmt.Fprintln(tw, "\t\t\t\t\t\t\t\t\t")
		}
		last = r.Model
		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%v\t%v\t%v\t%v\t%.2f\t\n",
			r.Model,
			r.Connections,
			r.SampleCount,
			nanos(r.Mean),
			nanos(r.Median),
			nanos(r.StdDev),
			nanos(r.Min),
			nanos(r.Max),
			r.Throughput,
		)
	}
	return tw.Flush()
}

func nanos(f float64) time.Duration {
	return time.Duration(f).Round(time.Nanosecond)
}

// WriteCSV writes results as ';' separated values with a header row.
func WriteCSV(w io.Writer, results []BenchResult) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, r := range results {
		row := []string{
			r.RunID,
			r.Model.String(),
			strconv.Itoa(r.Connections),
			strconv.Itoa(r.SampleCount),
			formatFloat(r.Mean),
			formatFloat(r.Median),
			formatFloat(r.StdDev),
			formatFloat(r.Min),
			formatFloat(r.Max),
			formatFloat(r.Throughput),
			strconv.Itoa(r.Host.CPUs),
			formatFloat(r.Host.Load1),
			formatFloat(r.Host.Load5),
			formatFloat(r.Host.Load15),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ReadCSV parses a report written by WriteCSV. Samples are not part of the
// report, only their count.
func ReadCSV(r io.Reader) ([]BenchResult, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = len(reportHeader)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	if header[0] != reportHeader[0] {
		return nil, fmt.Errorf("bad report header: %q", header)
	}

	var results []BenchResult
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return results, nil
		} else if err != nil {
			return nil, err
		}
		r, err := parseRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		results = append(results, r)
	}
}

func parseRow(row []string) (BenchResult, error) {
	var (
		r   BenchResult
		err error
	)
	r.RunID = row[0]
	if r.Model, err = ParseModel(row[1]); err != nil {
		return r, err
	}
	if r.Connections, err = strconv.Atoi(row[2]); err != nil {
		return r, fmt.Errorf("bad connections %q: %w", row[2], err)
	}
	if r.SampleCount, err = strconv.Atoi(row[3]); err != nil {
		return r, fmt.Errorf("bad samples %q: %w", row[3], err)
	}
	if r.Host.CPUs, err = strconv.Atoi(row[10]); err != nil {
		return r, fmt.Errorf("bad cpus %q: %w", row[10], err)
	}
	floatFields := []struct {
		dst *float64
		col int
	}{
		{&r.Mean, 4},
		{&r.Median, 5},
		{&r.StdDev, 6},
		{&r.Min, 7},
		{&r.Max, 8},
		{&r.Throughput, 9},
		{&r.Host.Load1, 11},
		{&r.Host.Load5, 12},
		{&r.Host.Load15, 13},
	}
	for _, f := range floatFields {
		v, err := strconv.ParseFloat(row[f.col], 64)
		if err != nil {
			return r, fmt.Errorf("bad %s %q: %w", reportHeader[f.col], row[f.col], err)
		}
		*f.dst = v
	}
	return r, nil
}
