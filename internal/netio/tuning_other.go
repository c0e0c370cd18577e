//go:build !linux

package netio

import "net"

// applyPlatformTuning is a no-op outside Linux: the keepalive timing
// knobs this package tunes are Linux-specific socket options.
func applyPlatformTuning(tcpConn *net.TCPConn, cfg TuningConfig) error {
	return nil
}
