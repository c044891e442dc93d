package pbench

import (
	"context"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/load"
	log "github.com/sirupsen/logrus"
)

// HostLoad is a snapshot of the machine the benchmark ran on. Results taken on
// a loaded host are not comparable with results from an idle one.
type HostLoad struct {
	CPUs   int
	Load1  float64
	Load5  float64
	Load15 float64
}

// SnapshotHost reads the load average. Failures leave the fields zero.
func SnapshotHost(ctx context.Context) HostLoad {
	var h HostLoad
	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		log.WithError(err).Debug("cannot read cpu count")
	} else {
		h.CPUs = n
	}
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		log.WithError(err).Debug("cannot read load average")
		return h
	}
	h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	return h
}
