package netio

import "net"

// TuningConfig controls the socket options applied to an accepted TCP
// connection before it's handed to the pipeline.
type TuningConfig struct {
	// NoDelay disables Nagle's algorithm. Header/body writes are
	// already framed and flushed as complete units, so coalescing
	// them only adds latency.
	NoDelay bool

	// KeepAlive enables SO_KEEPALIVE so a backend or client that
	// vanishes without a FIN is noticed instead of holding a
	// connection and its exchange goroutine open indefinitely.
	KeepAlive bool
}

// DefaultTuning is applied to every accepted connection.
var DefaultTuning = TuningConfig{NoDelay: true, KeepAlive: true}

// ApplyTuning applies cfg to conn if it is a *net.TCPConn. Connections
// of other types (notably PairConn) are left alone.
func ApplyTuning(conn net.Conn, cfg TuningConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if cfg.NoDelay {
		if err := tcpConn.SetNoDelay(true); err != nil {
			return err
		}
	}
	if cfg.KeepAlive {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
	}
	return applyPlatformTuning(tcpConn, cfg)
}
