// echo-server is the measurement peer for echo probes. It echoes
// every payload it receives straight back to the sender, over plain
// TCP, WebSocket, and secure WebSocket at the same time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/echo-probe/echoserver"
	"github.com/m-lab/echo-probe/logging"
	"github.com/m-lab/echo-probe/platformx"
)

var (
	tcpAddr  = flag.String("tcp_addr", ":9000", "The address and port to use for the plain TCP echo service")
	wsAddr   = flag.String("ws_addr", ":9001", "The address and port to use for the WS echo service")
	wssAddr  = flag.String("wss_addr", ":9002", "The address and port to use for the WSS echo service")
	certFile = flag.String("cert", "", "The file with server certificates in PEM format.")
	keyFile  = flag.String("key", "", "The file with server key in PEM format.")

	// Context for the whole program.
	ctx, cancel = context.WithCancel(context.Background())
)

func catchSigterm() {
	// Register channel to receive SIGTERM events.
	c := make(chan os.Signal, 1)
	defer close(c)
	signal.Notify(c, syscall.SIGTERM)

	// Wait until we receive a SIGTERM or the context is canceled.
	select {
	case <-c:
		fmt.Println("Received SIGTERM")
	case <-ctx.Done():
		fmt.Println("Canceled")
	}
	cancel()
}

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")
	platformx.WarnIfNotFullySupported()

	promSrv := prometheusx.MustServeMetrics()
	defer promSrv.Close()

	go catchSigterm()

	if *tcpAddr != "" {
		srv, err := echoserver.ListenTCP(*tcpAddr)
		rtx.Must(err, "Could not start the plain TCP echo service")
		defer srv.Close()
		logging.Logger.Infof("Echoing tcp connections on %s", srv.Addr())
	}
	if *wsAddr != "" {
		srv, err := echoserver.ListenWS(*wsAddr)
		rtx.Must(err, "Could not start the WS echo service")
		defer srv.Close()
		logging.Logger.Infof("Echoing ws connections on %s", srv.Addr())
	}
	if *wssAddr != "" && *certFile != "" && *keyFile != "" {
		srv, err := echoserver.ListenWSS(*wssAddr, *certFile, *keyFile)
		rtx.Must(err, "Could not start the WSS echo service")
		defer srv.Close()
		logging.Logger.Infof("Echoing wss connections on %s", srv.Addr())
	}

	<-ctx.Done()
}
