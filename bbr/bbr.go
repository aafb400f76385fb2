// Package bbr reads and manipulates the BBR state of the sockets the
// probe measures on. This code currently only works on Linux systems,
// as BBR is only available there.
package bbr

import (
	"errors"
	"os"

	"github.com/m-lab/tcp-info/inetdiag"
)

// ErrNoSupport indicates that this system does not support BBR.
var ErrNoSupport = errors.New("TCP_CC_INFO not supported")

// Enable enables BBR on |fp|.
func Enable(fp *os.File) error {
	return enableBBR(fp)
}

// GetBBRInfo obtains BBR info from |fp|. The returned error is
// ErrNoSupport when the socket is not using BBR.
func GetBBRInfo(fp *os.File) (inetdiag.BBRInfo, error) {
	return getBBRInfo(fp)
}
