//go:build linux

package netio

import (
	"net"

	"golang.org/x/sys/unix"
)

// applyPlatformTuning sets the Linux keepalive timing fields: probe
// after 60s idle, then every 10s, giving up after 3 missed probes. The
// stock keepalive default of two hours is far longer than any backend
// exchange should outlive its peer.
func applyPlatformTuning(tcpConn *net.TCPConn, cfg TuningConfig) error {
	if !cfg.KeepAlive {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}
	var opErr error
	err = rawConn.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, 60); e != nil {
			opErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10); e != nil {
			opErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3); e != nil {
			opErr = e
			return
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
