package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrPayloadLength is returned when a binary payload does not match its token's rule.
	ErrPayloadLength = errors.New("frame: payload length does not match count")

	// ErrUnknownToken is returned when Binary is given a token without a payload rule.
	ErrUnknownToken = errors.New("frame: unknown binary token")

	// ErrInvalidText is returned when a text part contains a separator or line terminator.
	ErrInvalidText = errors.New("frame: text contains reserved bytes")
)

// Command builds a plain text frame: CMD\r\n.
func Command(cmd string) ([]byte, error) {
	if err := checkText(cmd, false); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(cmd)+2)
	out = append(out, cmd...)
	return append(out, crlf...), nil
}

// Tokenized builds a tokenized text frame: TOKEN@arg@...@\r\n.
func Tokenized(token string, args ...string) ([]byte, error) {
	if err := checkText(token, true); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(token)
	buf.WriteByte(sep)
	for _, a := range args {
		if err := checkText(a, true); err != nil {
			return nil, err
		}
		buf.WriteString(a)
		buf.WriteByte(sep)
	}
	buf.Write(crlf)
	return buf.Bytes(), nil
}

// Binary builds a length-prefixed frame: TOKEN@count@<payload>@\r\n using
// the canonical payload rules.
func Binary(token string, count int, payload []byte) ([]byte, error) {
	rule, ok := DefaultRules()[token]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrPayloadLength, count)
	}
	if want := rule(count); want != len(payload) {
		return nil, fmt.Errorf("%w: %s count=%d want %d bytes, got %d",
			ErrPayloadLength, token, count, want, len(payload))
	}

	c := strconv.Itoa(count)
	out := make([]byte, 0, len(token)+len(c)+len(payload)+5)
	out = append(out, token...)
	out = append(out, sep)
	out = append(out, c...)
	out = append(out, sep)
	out = append(out, payload...)
	out = append(out, sep, cr, lf)
	return out, nil
}

// Token returns the leading identifier of a frame: the bytes before the
// first '@', or the whole line when there is none.
func Token(f []byte) string {
	line := trimTerminator(f)
	if i := bytes.IndexByte(line, sep); i >= 0 {
		return string(line[:i])
	}
	return string(line)
}

// Args splits a tokenized text frame into its '@'-separated arguments,
// dropping the token and the empty field left by a trailing '@'. Binary
// frames are not split; use Payload for those.
func Args(f []byte) []string {
	line := trimTerminator(f)
	parts := bytes.Split(line, []byte{sep})
	if len(parts) <= 1 {
		return nil
	}
	parts = parts[1:]
	if n := len(parts); n > 0 && len(parts[n-1]) == 0 {
		parts = parts[:n-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// Payload returns the count and payload of a complete binary frame.
func Payload(f []byte) (count int, payload []byte, ok bool) {
	at1 := bytes.IndexByte(f, sep)
	if at1 < 0 {
		return 0, nil, false
	}
	rule, known := DefaultRules()[string(f[:at1])]
	if !known {
		return 0, nil, false
	}
	rel := bytes.IndexByte(f[at1+1:], sep)
	if rel < 0 {
		return 0, nil, false
	}
	at2 := at1 + 1 + rel
	count, ok = parseCount(f[at1+1 : at2])
	if !ok {
		return 0, nil, false
	}
	end := at2 + 1 + rule(count)
	if end+3 != len(f) {
		return 0, nil, false
	}
	return count, f[at2+1 : end], true
}

// IsBinary reports whether f starts with a binary token header.
func IsBinary(f []byte) bool {
	at1 := bytes.IndexByte(f, sep)
	if at1 < 0 {
		return false
	}
	_, ok := DefaultRules()[string(f[:at1])]
	return ok
}

func trimTerminator(f []byte) []byte {
	return bytes.TrimSuffix(f, crlf)
}

func checkText(s string, inToken bool) error {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == cr || c == lf || (inToken && c == sep) {
			return fmt.Errorf("%w: %q", ErrInvalidText, s)
		}
	}
	return nil
}
