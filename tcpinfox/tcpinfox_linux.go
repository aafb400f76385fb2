package tcpinfox

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/m-lab/tcp-info/tcp"
)

func getTCPInfo(fp *os.File) (*tcp.LinuxTCPInfo, error) {
	// The kernel fills in as much of the struct as it knows about and
	// reports how far it got through tcpInfoLen; tcp.LinuxTCPInfo is
	// sized for recent kernels, so older ones leave the tail zeroed.
	tcpInfo := tcp.LinuxTCPInfo{}
	tcpInfoLen := uint32(unsafe.Sizeof(tcpInfo))
	// Note: Fd() returns uintptr but on Unix we can safely use int for sockets.
	_, _, errno := unix.Syscall6(
		uintptr(unix.SYS_GETSOCKOPT),
		uintptr(int(fp.Fd())),
		uintptr(unix.SOL_TCP),
		uintptr(unix.TCP_INFO),
		uintptr(unsafe.Pointer(&tcpInfo)),
		uintptr(unsafe.Pointer(&tcpInfoLen)),
		0)
	if errno != 0 {
		return &tcpInfo, errno
	}
	return &tcpInfo, nil
}
