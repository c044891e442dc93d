package main

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alarmfox/pingbench/internal/pbench"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rateLine = regexp.MustCompile(`(?m)^(Client \d+|Average|Aggregate): ([0-9.]+) pings/sec$`)

// startTaskServer runs a task model server and reports how many exchanges it
// served across all connections.
func startTaskServer(t *testing.T) (string, *atomic.Uint64) {
	t.Helper()
	served := new(atomic.Uint64)
	server, err := pbench.NewServer(pbench.ModelTask, pbench.ServerOptions{
		Socket: pbench.DefaultSocketOptions,
		Sink:   func(r pbench.ConnResult) { served.Add(r.Exchanges) },
	})
	require.NoError(t, err)
	addr, err := server.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})
	return addr.String(), served
}

func rates(t *testing.T, out string) map[string]float64 {
	t.Helper()
	got := make(map[string]float64)
	for _, m := range rateLine.FindAllStringSubmatch(out, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		require.NoError(t, err)
		got[m[1]] = v
	}
	return got
}

func runClients(t *testing.T, clients uint, exchanges uint64) (string, uint64) {
	t.Helper()
	addr, served := startTaskServer(t)
	var out bytes.Buffer
	err := run(context.Background(), Config{
		addr:      addr,
		clients:   clients,
		model:     pbench.ModelTask,
		exchanges: exchanges,
	}, &out)
	require.NoError(t, err)

	// Connection results reach the sink once the server sees the close.
	want := exchanges - exchanges%uint64(clients)
	assert.Eventually(t, func() bool { return served.Load() == want }, 5*time.Second, 10*time.Millisecond)
	return out.String(), served.Load()
}

func TestRunReportsEveryClient(t *testing.T) {
	out, served := runClients(t, 10, 10_005)
	assert.Equal(t, uint64(10_000), served)

	for i := 0; i < 10; i++ {
		assert.Contains(t, out, fmt.Sprintf("Running client %d with 1000 pings...\n", i))
	}

	got := rates(t, out)
	require.Len(t, got, 12)
	for name, v := range got {
		assert.Positive(t, v, name)
		assert.False(t, math.IsInf(v, 0), name)
	}
	// Wall time is at least the longest client, so the aggregate can never
	// exceed the sum of the per-client rates.
	var sum float64
	for i := 0; i < 10; i++ {
		sum += got[fmt.Sprintf("Client %d", i)]
	}
	assert.LessOrEqual(t, got["Aggregate"], sum*1.01)
}

func TestRunDefaultWorkload(t *testing.T) {
	if testing.Short() {
		t.Skip("sends a million pings")
	}
	out, served := runClients(t, 10, totalExchanges)
	assert.Equal(t, uint64(totalExchanges), served)
	assert.Contains(t, out, "Running client 9 with 100000 pings...\n")

	got := rates(t, out)
	assert.Positive(t, got["Average"])
	assert.Positive(t, got["Aggregate"])
}

func TestRunRejectsZeroClients(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), Config{addr: "127.0.0.1:1", model: pbench.ModelTask, exchanges: 10}, &out)
	assert.ErrorIs(t, err, pbench.ErrInvalidConnections)
	assert.Empty(t, out.String())
}

func TestRunRejectsTrialWithoutExchanges(t *testing.T) {
	addr, _ := startTaskServer(t)
	var out bytes.Buffer
	err := run(context.Background(), Config{addr: addr, clients: 4, model: pbench.ModelThread, exchanges: 3}, &out)
	assert.ErrorIs(t, err, pbench.ErrNoThroughput)
}
