package frame

import (
	"bytes"
	"strconv"
)

// Binary tokens carry a length-prefixed payload: TOKEN@count@<payload>@\r\n.
const (
	TokenData   = "A_D"
	TokenResult = "A_R"
)

const (
	sep = '@'
	cr  = '\r'
	lf  = '\n'
)

var crlf = []byte{cr, lf}

// Result is the outcome of a single TryExtract call.
type Result int

const (
	// NeedMoreData means no complete frame is buffered yet.
	NeedMoreData Result = iota
	// Extracted means a frame was found at the head of the buffer.
	Extracted
	// Resync means the head of the buffer is malformed; drop the consumed
	// bytes and retry.
	Resync
	// Overflow means the pending line grew past MaxLineBytes before its
	// terminator arrived. The caller drops the consumed bytes and then
	// everything through the next CRLF.
	Overflow
)

// String returns a human-readable representation of the result.
func (r Result) String() string {
	switch r {
	case NeedMoreData:
		return "NeedMoreData"
	case Extracted:
		return "Extracted"
	case Resync:
		return "Resync"
	case Overflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// PayloadRule computes the binary payload length for a count field.
type PayloadRule func(count int) int

// DataPayload is the A_D rule: count little-endian float64 values.
func DataPayload(count int) int { return count * 8 }

// ResultPayload is the A_R rule: a 44-byte record header followed by six
// float64 arrays of count entries (X, Y, Z, TX, TY, TZ).
func ResultPayload(count int) int { return 44 + count*8*6 }

// DefaultRules returns the canonical payload rules for the binary tokens.
func DefaultRules() map[string]PayloadRule {
	return map[string]PayloadRule{
		TokenData:   DataPayload,
		TokenResult: ResultPayload,
	}
}

// Limits constrains how much unconsumed input a decoder will wait on.
type Limits struct {
	// MaxLineBytes bounds a text line, terminator excluded. Longer lines are
	// dropped whole.
	MaxLineBytes int
	// MaxPayloadBytes bounds the payload computed from a binary count.
	MaxPayloadBytes int
}

// DefaultLimits returns the decoder limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxLineBytes:    64 * 1024,
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Decoder extracts frames from the head of an accumulating byte buffer.
// A Decoder holds no per-stream state and may be shared between sessions.
type Decoder struct {
	rules  map[string]PayloadRule
	limits Limits
}

// NewDecoder returns a decoder using the canonical payload rules.
func NewDecoder(limits Limits) *Decoder {
	return NewDecoderWithRules(DefaultRules(), limits)
}

// NewDecoderWithRules returns a decoder using the given binary token rules.
func NewDecoderWithRules(rules map[string]PayloadRule, limits Limits) *Decoder {
	def := DefaultLimits()
	if limits.MaxLineBytes <= 0 {
		limits.MaxLineBytes = def.MaxLineBytes
	}
	if limits.MaxPayloadBytes <= 0 {
		limits.MaxPayloadBytes = def.MaxPayloadBytes
	}
	r := make(map[string]PayloadRule, len(rules))
	for tok, rule := range rules {
		r[tok] = rule
	}
	return &Decoder{rules: r, limits: limits}
}

// PayloadLen returns the payload length for a binary token and count.
func (d *Decoder) PayloadLen(token string, count int) (int, bool) {
	rule, ok := d.rules[token]
	if !ok {
		return 0, false
	}
	return rule(count), true
}

// TryExtract looks for one complete frame at the head of buf. buf is not
// modified; the caller removes consumed bytes from the head for every
// result but NeedMoreData. A malformed binary header resyncs by one byte,
// a text line longer than MaxLineBytes resyncs through its CRLF. The
// returned frame is a copy and includes its terminator.
func (d *Decoder) TryExtract(buf []byte) (frame []byte, consumed int, res Result) {
	if len(buf) == 0 {
		return nil, 0, NeedMoreData
	}

	end := bytes.Index(buf, crlf)

	search := buf
	if end >= 0 {
		search = buf[:end]
	}
	at1 := bytes.IndexByte(search, sep)

	if at1 < 0 {
		if end >= 0 {
			return d.takeLine(buf, end)
		}
		return d.needLine(buf)
	}

	if rule, ok := d.rules[string(buf[:at1])]; ok {
		return d.extractBinary(buf, at1, rule)
	}

	if end < 0 {
		return d.needLine(buf)
	}
	return d.takeLine(buf, end)
}

func (d *Decoder) extractBinary(buf []byte, at1 int, rule PayloadRule) ([]byte, int, Result) {
	at2 := at1 + 1
	for ; at2 < len(buf) && buf[at2] != sep; at2++ {
		if buf[at2] < '0' || buf[at2] > '9' {
			return nil, 1, Resync
		}
	}
	// the header must close within the line limit
	if at2 > d.limits.MaxLineBytes {
		return nil, 1, Resync
	}
	if at2 == len(buf) {
		return nil, 0, NeedMoreData
	}

	count, ok := parseCount(buf[at1+1 : at2])
	if !ok {
		return nil, 1, Resync
	}

	payloadLen := rule(count)
	if payloadLen < 0 || payloadLen > d.limits.MaxPayloadBytes {
		return nil, 1, Resync
	}

	afterData := at2 + 1 + payloadLen
	if len(buf) < afterData+3 {
		return nil, 0, NeedMoreData
	}
	if buf[afterData] != sep || buf[afterData+1] != cr || buf[afterData+2] != lf {
		return nil, 1, Resync
	}
	return take(buf, afterData+3)
}

// takeLine extracts the line ending at end, or drops it whole when it is
// longer than MaxLineBytes.
func (d *Decoder) takeLine(buf []byte, end int) ([]byte, int, Result) {
	if end > d.limits.MaxLineBytes {
		return nil, end + 2, Resync
	}
	return take(buf, end+2)
}

// needLine waits for a terminator unless the pending line is already too
// long. A trailing CR may be the first half of the terminator and is kept.
func (d *Decoder) needLine(buf []byte) ([]byte, int, Result) {
	pending := len(buf)
	if buf[pending-1] == cr {
		pending--
	}
	if pending > d.limits.MaxLineBytes {
		return nil, pending, Overflow
	}
	return nil, 0, NeedMoreData
}

func take(buf []byte, n int) ([]byte, int, Result) {
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, n, Extracted
}

// parseCount accepts a non-empty run of ASCII digits. Leading zeros are
// ignored; at most nine significant digits are allowed.
func parseCount(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	b = bytes.TrimLeft(b, "0")
	if len(b) == 0 {
		return 0, true
	}
	if len(b) > 9 {
		return 0, false
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, false
	}
	return n, true
}
