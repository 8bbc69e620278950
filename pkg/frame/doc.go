// Package frame implements the atlink stream framing rules.
//
// An atlink stream interleaves three kinds of frame on one TCP connection:
//
//	PING\r\n                         plain text line
//	R_S@3@\r\n                       tokenized text line
//	A_D@2@<16 payload bytes>@\r\n    length-prefixed binary frame
//
// Binary frames are recognized by their token. The payload length is a
// fixed function of the count field: A_D carries count float64 values
// (count*8 bytes) and A_R carries a 44-byte header plus six float64
// arrays (44 + count*48 bytes).
//
// # Usage
//
// A [Decoder] is stateless; feed a [Buffer] and drain it after each read:
//
//	dec := frame.NewDecoder(frame.DefaultLimits())
//	var buf frame.Buffer
//
//	buf.Write(chunk)
//	buf.Drain(dec, frame.DefaultMaxIterations, func(f []byte) {
//	    handle(f)
//	})
//
// Malformed headers never fail the stream. The decoder reports [Resync],
// the buffer drops a single byte and decoding continues, so a corrupted
// prefix costs only its own bytes. A text line longer than
// [Limits].MaxLineBytes is dropped whole through its CRLF, whether it
// arrives in one read or many ([Overflow]).
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package frame
