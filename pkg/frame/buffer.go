package frame

import "bytes"

// DefaultMaxIterations bounds the extraction attempts of a single Drain call.
const DefaultMaxIterations = 1000

// DrainStats summarizes one Drain call.
type DrainStats struct {
	Frames      int
	ResyncBytes int
	Iterations  int
	// Truncated is set when Drain stopped on the iteration guard with input left.
	Truncated bool
}

// Buffer is the unconsumed input of one connection. Bytes are appended at
// the tail and consumed strictly from the head. A Buffer is not safe for
// concurrent use; it belongs to the goroutine reading the connection.
type Buffer struct {
	b   []byte
	off int
	// skipping is set while the rest of an over-long line is discarded.
	skipping bool
}

// Write appends p to the tail of the buffer. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.off > 0 && b.off == len(b.b) {
		b.b = b.b[:0]
		b.off = 0
	}
	b.b = append(b.b, p...)
	return len(p), nil
}

// Bytes returns the unconsumed bytes. The slice is only valid until the
// next Write, Discard or Drain.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Discard removes n bytes from the head.
func (b *Buffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= b.Len() {
		b.b = b.b[:0]
		b.off = 0
		return
	}
	b.off += n
	b.compact()
}

// Reset drops all buffered input, including a line being skipped.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
	b.skipping = false
}

// compact moves the live region to the front once the consumed prefix
// dominates the backing array.
func (b *Buffer) compact() {
	if b.off < 4096 || b.off < len(b.b)/2 {
		return
	}
	n := copy(b.b, b.b[b.off:])
	b.b = b.b[:n]
	b.off = 0
}

// Drain extracts frames with dec until it needs more data, calling fn for
// each frame in wire order. Resync drops the bytes the decoder reports and
// continues. After Overflow the input is discarded through the next CRLF,
// across as many calls as it takes, so the buffer never holds much more
// than one line limit. At most maxIter extraction attempts are made; a
// non-positive maxIter uses DefaultMaxIterations.
func (b *Buffer) Drain(dec *Decoder, maxIter int, fn func(frame []byte)) DrainStats {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	var st DrainStats
	for st.Iterations < maxIter {
		if b.Len() == 0 {
			return st
		}
		st.Iterations++
		if b.skipping {
			n, done := skipLine(b.Bytes())
			b.Discard(n)
			st.ResyncBytes += n
			if !done {
				return st
			}
			b.skipping = false
			continue
		}
		f, n, res := dec.TryExtract(b.Bytes())
		switch res {
		case Extracted:
			b.Discard(n)
			st.Frames++
			if fn != nil {
				fn(f)
			}
		case Resync:
			b.Discard(n)
			st.ResyncBytes += n
		case Overflow:
			b.Discard(n)
			st.ResyncBytes += n
			b.skipping = true
		default:
			return st
		}
	}
	st.Truncated = b.Len() > 0
	return st
}

// skipLine reports how much of p belongs to the line being skipped and
// whether its terminator was reached. A trailing CR is left in place.
func skipLine(p []byte) (int, bool) {
	if i := bytes.Index(p, crlf); i >= 0 {
		return i + 2, true
	}
	n := len(p)
	if p[n-1] == cr {
		n--
	}
	return n, false
}
