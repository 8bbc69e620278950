//go:build !unix

package link

import "net"

// peekConn cannot inspect sockets on this platform; the monitor relies on
// the probe write alone.
func peekConn(net.Conn) peekState {
	return peekUnknown
}
