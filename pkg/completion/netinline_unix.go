//go:build unix

package completion

import (
	"net"

	"golang.org/x/sys/unix"
)

// readAvailable copies whatever the peer has already sent into buf without
// waiting. It returns 0 when nothing is queued or on any error; the first
// regular Recv will observe the error.
func readAvailable(c *net.TCPConn, buf []byte) int {
	rc, err := c.SyscallConn()
	if err != nil {
		return 0
	}
	n := 0
	_ = rc.Read(func(fd uintptr) bool {
		r, err := unix.Read(int(fd), buf)
		if err == nil && r > 0 {
			n = r
		}
		return true
	})
	return n
}
