//go:build unix

package link

import (
	"errors"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peekConn looks at the socket without consuming data or blocking.
// A readable socket with zero bytes means the peer sent FIN.
//
// RawConn.Control is used rather than RawConn.Read so the check does not
// wait on the receive loop's hold of the descriptor.
func peekConn(conn net.Conn) peekState {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return peekUnknown
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return peekUnknown
	}

	state := peekUnknown
	var b [1]byte
	cerr := raw.Control(func(fd uintptr) {
		n, _, rerr := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case rerr == nil && n == 0:
			state = peekClosed
		case rerr == nil:
			state = peekOpen
		case errors.Is(rerr, unix.EAGAIN), errors.Is(rerr, unix.EWOULDBLOCK):
			state = peekOpen
		case errors.Is(rerr, unix.ECONNRESET), errors.Is(rerr, unix.ENOTCONN), errors.Is(rerr, unix.EPIPE):
			state = peekClosed
		}
	})
	if cerr != nil {
		return peekUnknown
	}
	return state
}
