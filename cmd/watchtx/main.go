// watchtx prints the transmit and receive rates of a network device
// once per second. Cross traffic on the probing host inflates measured
// round trip times, so check here before blaming the network path.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/prometheus/procfs"

	"github.com/m-lab/go/rtx"
)

var (
	procPath = "/proc"
	device   string
)

func init() {
	flag.StringVar(&device, "device", "eth0", "The network device to watch")
}

// rateWatcher samples a device's byte counters once per second and
// keeps the most recent rates, in bits per second.
type rateWatcher struct {
	device string
	tx     uint64
	rx     uint64
}

func (w *rateWatcher) watch(init procfs.NetDevLine, pfs procfs.FS) {
	t := time.NewTicker(time.Second)

	for prevTx, prevRx := init.TxBytes, init.RxBytes; ; <-t.C {
		nd, err := pfs.NetDev()
		if err != nil {
			log.Println(err)
			continue
		}
		v, ok := nd[w.device]
		if ok {
			atomic.StoreUint64(&w.tx, (v.TxBytes-prevTx)*8)
			atomic.StoreUint64(&w.rx, (v.RxBytes-prevRx)*8)
			prevTx, prevRx = v.TxBytes, v.RxBytes
		}
	}
}

func main() {
	flag.Parse()

	pfs, err := procfs.NewFS(procPath)
	rtx.Must(err, "Failed to create a new procfs reader")
	nd, err := pfs.NetDev()
	rtx.Must(err, "Failed to read the device counters")

	line, ok := nd[device]
	if !ok {
		for k := range nd {
			fmt.Println("available device:", k)
		}
		log.Fatalf("no such device: %s", device)
	}

	w := &rateWatcher{device: device}
	go w.watch(line, pfs)

	t := time.NewTicker(time.Second)
	for ; ; <-t.C {
		fmt.Printf("%s: tx %d bit/s, rx %d bit/s\n",
			device, atomic.LoadUint64(&w.tx), atomic.LoadUint64(&w.rx))
	}
}
