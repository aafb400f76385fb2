// Package measurer snapshots the kernel's view of a connection while a
// measurement runs, without touching the measurement's hot path.
package measurer

import (
	"context"
	"os"
	"time"

	"github.com/m-lab/go/memoryless"
	"github.com/m-lab/tcp-info/tcp"

	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/tcpinfox"
)

// Snapshot pacing. Sampling at memoryless intervals keeps periodic
// kernel behavior from aliasing into the snapshots.
const (
	minSnapshotInterval      = 100 * time.Millisecond
	expectedSnapshotInterval = 400 * time.Millisecond
	maxSnapshotInterval      = time.Second
)

// Snapshot is one TCP_INFO reading.
type Snapshot struct {
	// ElapsedTime is the time since the measurer started, in
	// microseconds.
	ElapsedTime int64
	// TCPInfo is the kernel's view of the socket at that moment.
	TCPInfo tcp.LinuxTCPInfo
}

// Measurer samples TCP_INFO for one connection in the background.
type Measurer struct {
	fp       *os.File
	cancel   context.CancelFunc
	summaryC chan []Snapshot
}

// New returns a Measurer for the socket behind fp. A nil fp is
// allowed, for transports that hide their descriptor; such a measurer
// collects nothing.
func New(fp *os.File) *Measurer {
	// We want the channel to be closed by default, not nil. A read on a
	// closed channel returns immediately, while a read on a nil channel
	// blocks forever.
	c := make(chan []Snapshot)
	close(c)
	return &Measurer{
		fp:       fp,
		summaryC: c,
		// We want the cancel function to always be safe to call.
		cancel: func() {},
	}
}

// Start begins sampling in a background goroutine and returns. Callers
// that call Start must call Stop to collect what was gathered.
func (m *Measurer) Start(ctx context.Context) {
	if m.fp == nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.summaryC = make(chan []Snapshot)
	go m.loop(ctx, m.summaryC)
}

// Stop ends the sampling and returns the snapshots collected so far.
// Stopping a measurer that never started returns nil.
func (m *Measurer) Stop() []Snapshot {
	m.cancel()
	return <-m.summaryC
}

func (m *Measurer) loop(ctx context.Context, dst chan<- []Snapshot) {
	logging.Logger.Debug("measurer: start")
	defer logging.Logger.Debug("measurer: stop")
	start := time.Now()
	// Implementation note: the ticker will close its output channel
	// after the controlling context is expired.
	ticker, err := memoryless.NewTicker(ctx, memoryless.Config{
		Min:      minSnapshotInterval,
		Expected: expectedSnapshotInterval,
		Max:      maxSnapshotInterval,
	})
	if err != nil {
		logging.Logger.WithError(err).Warn("memoryless.NewTicker failed")
		dst <- nil
		return
	}
	var snapshots []Snapshot
	for now := range ticker.C {
		info, err := tcpinfox.GetTCPInfo(m.fp)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{
			ElapsedTime: int64(now.Sub(start) / time.Microsecond),
			TCPInfo:     *info,
		})
	}
	dst <- snapshots
}
