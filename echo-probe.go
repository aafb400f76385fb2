// echo-probe measures network round trip latency against an echo
// server: it pushes fixed-size payloads, pops their echoes one at a
// time, and times each round trip with the CPU's cycle counter.
//
// Usage:
//
//	echo-probe [flags] <host> <port> [payload-size] [max-messages]
//
// Every measured round trip is printed to the standard output as a
// tick count on its own line, between two separator lines, so that the
// samples stay easy to scrape out of the surrounding logs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/echo-probe/echo"
	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/metadata"
	"github.com/m-lab/echo-probe/platformx"
	"github.com/m-lab/echo-probe/redis"
	"github.com/m-lab/echo-probe/report"
	"github.com/m-lab/echo-probe/roundtrip"
)

var (
	protocol      = flag.String("protocol", "tcp", "The transport to measure over: tcp, ws or wss")
	skipTLSVerify = flag.Bool("skip-tls-verify", false, "Accept any TLS certificate the wss server presents")
	datadir       = flag.String("datadir", "", "A directory in which to archive the run as JSON. Empty disables archiving.")
	enableBBR     = flag.Bool("enable-bbr", false, "Switch the measured connection to the BBR congestion control algorithm")
	snapshots     = flag.Bool("snapshots", true, "Snapshot TCP_INFO at random intervals while the measurement runs")
	redisAddr     = flag.String("redis.address", "", "A host:port of a Redis instance in which to cache the run's record. Empty disables caching.")
	labels        = flagx.StringArray{}
)

func init() {
	flag.Var(&labels, "label", "An extra name=value label to archive with the run's record. May be repeated.")
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [flags] <host> <port> [payload-size] [max-messages]\n", os.Args[0])
	fmt.Fprintf(out, "\nThe payload size defaults to %d bytes and must exceed %d.\n",
		echo.DefaultPayloadSize, echo.MinPayloadSize)
	fmt.Fprintf(out, "The number of messages defaults to %d.\n\nFlags:\n", echo.DefaultMaxMessages)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	platformx.WarnIfNotFullySupported()

	// Too few arguments gets the usage message, and that counts as
	// success.
	args := flag.Args()
	if len(args) < 2 {
		usage()
		return
	}
	pairs, err := metadata.FromLabels(labels)
	rtx.Must(err, "Could not parse the labels")
	cfg := roundtrip.Config{
		Scheme:           *protocol,
		Address:          net.JoinHostPort(args[0], args[1]),
		SkipTLSVerify:    *skipTLSVerify,
		PayloadSize:      echo.DefaultPayloadSize,
		MaxMessages:      echo.DefaultMaxMessages,
		EnableBBR:        *enableBBR,
		DisableSnapshots: !*snapshots,
		Metadata:         pairs,
	}
	if len(args) > 2 {
		size, err := strconv.Atoi(args[2])
		rtx.Must(err, "Could not parse the payload size %q", args[2])
		cfg.PayloadSize = size
	}
	if len(args) > 3 {
		count, err := strconv.Atoi(args[3])
		rtx.Must(err, "Could not parse the number of messages %q", args[3])
		cfg.MaxMessages = count
	}

	// A run in flight cannot be canceled, so an interrupt kills the
	// probe instead of winding it down.
	if runtime.GOOS != "windows" {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			logging.Logger.Warnf("Got %s: aborting the run", sig)
			os.Exit(1)
		}()
	}

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	record := roundtrip.Run(cfg)

	rtx.Must(report.Write(os.Stdout, record.Samples), "Could not print the samples")
	summary := report.Summarize(record.Samples)
	logging.Logger.Infof(
		"Round trips: %d, min/median/max: %d/%d/%d ticks, mean: %.1f ticks",
		summary.Count, summary.Min, summary.Median, summary.Max, summary.Mean)
	report.Save(record, *datadir)

	if *redisAddr != "" {
		client := redis.NewClient(*redisAddr)
		defer warnonerror.Close(client, "Could not close the Redis client")
		// Caching is best effort, like archiving.
		if err := client.SetResult(context.Background(), record, time.Hour); err != nil {
			logging.Logger.WithError(err).Warn("Could not cache the record in Redis")
		}
	}
}
