package bbr

import (
	"os"
	"unsafe"

	"github.com/m-lab/tcp-info/inetdiag"
	"golang.org/x/sys/unix"
)

func enableBBR(fp *os.File) error {
	// Note: Fd() returns uintptr but on Unix we can safely use int for sockets.
	return unix.SetsockoptString(int(fp.Fd()), unix.IPPROTO_TCP,
		unix.TCP_CONGESTION, "bbr")
}

func getBBRInfo(fp *os.File) (inetdiag.BBRInfo, error) {
	cci := unix.TCPBBRInfo{}
	size := uint32(unsafe.Sizeof(cci))
	_, _, errno := unix.Syscall6(
		uintptr(unix.SYS_GETSOCKOPT),
		uintptr(int(fp.Fd())),
		uintptr(unix.SOL_TCP),
		uintptr(unix.TCP_CC_INFO),
		uintptr(unsafe.Pointer(&cci)),
		uintptr(unsafe.Pointer(&size)),
		0)
	if errno != 0 {
		return inetdiag.BBRInfo{}, errno
	}
	// Among the congestion control algorithms that fill TCP_CC_INFO,
	// only BBR occupies five 32 bit words; Vegas and DCTCP both occupy
	// four. See include/uapi/linux/inet_diag.h.
	if size != uint32(unsafe.Sizeof(cci)) {
		return inetdiag.BBRInfo{}, ErrNoSupport
	}
	return inetdiag.BBRInfo{
		BW:         int64(cci.BbrBwHi)<<32 | int64(cci.BbrBwLo),
		MinRTT:     cci.BbrMinRtt,
		PacingGain: cci.BbrPacingGain,
		CwndGain:   cci.BbrCwndGain,
	}, nil
}
