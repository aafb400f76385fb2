// Package roundtrip drives the echo measurement: it connects to an
// echo server through the I/O queue, pushes payloads and pops their
// echoes one at a time, and times every round trip with the cycle
// counter.
package roundtrip

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"
	"github.com/m-lab/tcp-info/inetdiag"
	"github.com/m-lab/tcp-info/tcp"

	"github.com/m-lab/echo-probe/bbr"
	"github.com/m-lab/echo-probe/echo"
	"github.com/m-lab/echo-probe/ioqueue"
	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/measurer"
	"github.com/m-lab/echo-probe/metadata"
	"github.com/m-lab/echo-probe/metrics"
	"github.com/m-lab/echo-probe/sgbuf"
	"github.com/m-lab/echo-probe/tcpinfox"
	"github.com/m-lab/echo-probe/tsc"
)

// CurrentSchemaVersion is the current version of the Result struct
// below. It should be incremented for every structure change so that
// archived records stay parsable.
const CurrentSchemaVersion = 1

// Config describes one measurement run.
type Config struct {
	// Scheme selects the transport: "tcp", "ws" or "wss". An empty
	// scheme means "tcp".
	Scheme string
	// Address is the echo server as host:port.
	Address string
	// SkipTLSVerify disables certificate verification for wss.
	SkipTLSVerify bool
	// PayloadSize is the size in bytes of every pushed message. It
	// must be strictly larger than echo.MinPayloadSize.
	PayloadSize int
	// MaxMessages is how many payloads' worth of echoed bytes to wait
	// for before the run is complete.
	MaxMessages int
	// EnableBBR switches the measured connection to the BBR congestion
	// control algorithm before the first payload goes out.
	EnableBBR bool
	// DisableSnapshots turns off the periodic TCP_INFO sampling that
	// otherwise runs next to the measurement.
	DisableSnapshots bool
	// Metadata is archived verbatim in the run's record.
	Metadata []metadata.NameValue
}

// Validate checks cfg before any connection is attempted.
func (c Config) Validate() error {
	if c.PayloadSize <= echo.MinPayloadSize {
		return fmt.Errorf("payload size %d is too small: it must exceed %d bytes",
			c.PayloadSize, echo.MinPayloadSize)
	}
	if c.MaxMessages < 0 {
		return fmt.Errorf("max messages must not be negative, got %d", c.MaxMessages)
	}
	switch c.Scheme {
	case "", ioqueue.SchemeTCP, ioqueue.SchemeWS, ioqueue.SchemeWSS:
	default:
		return fmt.Errorf("unsupported scheme %q", c.Scheme)
	}
	return nil
}

// Result is the struct that is serialized as JSON to disk as the
// archival record of one measurement run.
type Result struct {
	// GitShortCommit is the Git commit (short form) of the running
	// probe code.
	GitShortCommit string
	// SchemaVersion represents the version of the Result structure.
	SchemaVersion int

	// UUID identifies the connection the run was measured on.
	UUID string

	ServerIP   string
	ServerPort int
	ClientIP   string
	ClientPort int

	StartTime time.Time
	EndTime   time.Time

	// Protocol is the transport scheme the run used.
	Protocol string
	// PayloadSize is the size in bytes of every pushed message.
	PayloadSize int
	// MessageCount is the number of round trips actually measured.
	MessageCount int
	// BytesEchoed is the total number of payload bytes echoed back.
	BytesEchoed int64
	// CounterIsHardware records whether Samples came from the CPU's
	// timestamp counter or from the runtime clock fallback.
	CounterIsHardware bool
	// Samples holds one round-trip duration per message, in counter
	// ticks, in measurement order. The type is int64 rather than uint64
	// to keep the record BigQuery-compatible.
	Samples []int64

	// TCPInfo is the kernel's view of the socket right after the run.
	TCPInfo *tcp.LinuxTCPInfo `json:",omitempty"`
	// BBRInfo is the socket's BBR state right after the run, present
	// only when the run asked for BBR and the host supports it.
	BBRInfo *inetdiag.BBRInfo `json:",omitempty"`
	// Snapshots are periodic TCP_INFO readings taken during the run.
	Snapshots []measurer.Snapshot `json:",omitempty"`

	// ClientMetadata carries the caller-supplied labels.
	ClientMetadata []metadata.NameValue `json:",omitempty"`
}

// Run performs one measurement run and returns its archival record. A
// probe that cannot measure has nothing useful to report, so every
// failure along the way panics instead of returning: no retries, no
// partial results.
func Run(cfg Config) *Result {
	rtx.PanicOnError(cfg.Validate(), "Config - the requested run is impossible")
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = ioqueue.SchemeTCP
	}

	metrics.ActiveProbes.WithLabelValues(scheme).Inc()
	defer metrics.ActiveProbes.WithLabelValues(scheme).Dec()

	pool := sgbuf.NewPool(0)
	q := ioqueue.New(ioqueue.Config{
		Scheme:        scheme,
		Address:       cfg.Address,
		SkipTLSVerify: cfg.SkipTLSVerify,
		EnableBBR:     cfg.EnableBBR,
		Pool:          pool,
	})
	defer warnonerror.Close(q, "Could not close the queue")

	record := &Result{
		GitShortCommit:    prometheusx.GitShortCommit,
		SchemaVersion:     CurrentSchemaVersion,
		StartTime:         time.Now(),
		Protocol:          scheme,
		PayloadSize:       cfg.PayloadSize,
		CounterIsHardware: tsc.Supported(),
		ClientMetadata:    cfg.Metadata,
	}

	qd, err := q.Socket()
	rtx.PanicOnError(err, "Socket - could not create a descriptor")
	tok, err := q.SubmitConnect(qd)
	rtx.PanicOnError(err, "Connect - could not submit the dial of %s", cfg.Address)
	_, err = tok.Wait()
	rtx.PanicOnError(err, "Connect - could not connect to %s", cfg.Address)

	conn, err := q.Conn(qd)
	rtx.PanicOnError(err, "Connect - no connection behind the descriptor")
	record.UUID = conn.UUID()
	record.ClientIP, record.ClientPort = ipAndPort(conn.LocalAddr())
	record.ServerIP, record.ServerPort = ipAndPort(conn.RemoteAddr())
	logging.Logger.Infof("Connected: %s (uuid: %s)", conn.String(), record.UUID)

	// A measurer over a nil descriptor collects nothing.
	var snapfp *os.File
	if !cfg.DisableSnapshots {
		snapfp = conn.ConnFile()
	}
	m := measurer.New(snapfp)
	m.Start(context.Background())

	// The run is over when the server has echoed back as many bytes as
	// MaxMessages payloads hold. Short reads make extra round trips,
	// never lost bytes.
	target := int64(cfg.PayloadSize) * int64(cfg.MaxMessages)
	var echoed int64
	samples := make([]int64, 0, cfg.MaxMessages)
	for echoed < target {
		buf, err := pool.Alloc(cfg.PayloadSize)
		rtx.PanicOnError(err, "Alloc - could not allocate %d bytes (uuid: %s)",
			cfg.PayloadSize, record.UUID)
		buf.Fill(echo.FillByte)

		t0 := tsc.Now()

		tok, err := q.SubmitSend(qd, buf)
		rtx.PanicOnError(err, "Send - could not submit the payload (uuid: %s)", record.UUID)
		_, err = tok.Wait()
		rtx.PanicOnError(err, "Send - the payload did not go out (uuid: %s)", record.UUID)
		rtx.PanicOnError(buf.Release(), "Send - could not release the payload (uuid: %s)", record.UUID)

		tok, err = q.SubmitReceive(qd)
		rtx.PanicOnError(err, "Receive - could not submit the pop (uuid: %s)", record.UUID)
		res, err := tok.Wait()
		rtx.PanicOnError(err, "Receive - the echo never came back (uuid: %s)", record.UUID)

		t1 := tsc.Now()

		samples = append(samples, int64(t1-t0))
		echoed += int64(res.Buf.Len())
		rtx.PanicOnError(res.Buf.Release(), "Receive - could not release the echo (uuid: %s)", record.UUID)
		metrics.RoundTripTicks.WithLabelValues(scheme).Observe(float64(t1 - t0))
	}

	record.Snapshots = m.Stop()
	if fp := conn.ConnFile(); fp != nil {
		info, err := tcpinfox.GetTCPInfo(fp)
		if err != nil {
			logging.Logger.WithError(err).Warn("Could not take the final TCP_INFO snapshot")
		} else {
			record.TCPInfo = info
		}
		if cfg.EnableBBR {
			bbrInfo, err := bbr.GetBBRInfo(fp)
			if err != nil {
				logging.Logger.WithError(err).Warn("Could not read the socket's BBR state")
			} else {
				record.BBRInfo = &bbrInfo
			}
		}
	}
	record.EndTime = time.Now()
	record.Samples = samples
	record.MessageCount = len(samples)
	record.BytesEchoed = echoed

	metrics.BuffersOutstanding.Set(float64(pool.Outstanding()))
	metrics.ProbeCount.WithLabelValues(scheme, "okay").Inc()
	logging.Logger.Infof("Measured %d round trips over %d echoed bytes (uuid: %s)",
		record.MessageCount, record.BytesEchoed, record.UUID)
	return record
}

// ipAndPort splits a TCP address into its parts for the archival
// record.
func ipAndPort(addr net.Addr) (string, int) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String(), 0
	}
	return tcpAddr.IP.String(), tcpAddr.Port
}
