package frame

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func payloadOf(n int, fill byte) []byte {
	return bytes.Repeat([]byte{fill}, n)
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func TestResult_String(t *testing.T) {
	tests := []struct {
		r    Result
		want string
	}{
		{NeedMoreData, "NeedMoreData"},
		{Extracted, "Extracted"},
		{Resync, "Resync"},
		{Overflow, "Overflow"},
		{Result(42), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.r.String(); got != tt.want {
			t.Errorf("Result(%d).String() = %s, want %s", tt.r, got, tt.want)
		}
	}
}

func TestDecoder_TryExtract(t *testing.T) {
	dataFrame := join([]byte("A_D@2@"), payloadOf(16, 0x11), []byte("@\r\n"))
	resultFrame := join([]byte("A_R@0@"), payloadOf(44, 0x22), []byte("@\r\n"))
	// payload that itself contains '@' and CRLF
	trickyFrame := join([]byte("A_D@1@"), []byte("@\r\n@\r\nxx"), []byte("@\r\n"))
	paddedFrame := join([]byte("A_D@0000000002@"), payloadOf(16, 0x33), []byte("@\r\n"))

	tests := []struct {
		name         string
		in           []byte
		wantRes      Result
		wantFrame    []byte
		wantConsumed int
	}{
		{"empty", nil, NeedMoreData, nil, 0},
		{"plain line", []byte("PING\r\n"), Extracted, []byte("PING\r\n"), 6},
		{"plain line without terminator", []byte("PING"), NeedMoreData, nil, 0},
		{"lone CR", []byte("PING\r"), NeedMoreData, nil, 0},
		{"first of two lines", []byte("A\r\nB\r\n"), Extracted, []byte("A\r\n"), 3},
		{"tokenized line", []byte("R_S@3@\r\n"), Extracted, []byte("R_S@3@\r\n"), 8},
		{"tokenized line incomplete", []byte("R_S@3"), NeedMoreData, nil, 0},
		{"at after terminator is plain line", []byte("OK\r\nA_D@1"), Extracted, []byte("OK\r\n"), 4},
		{"binary data frame", dataFrame, Extracted, dataFrame, len(dataFrame)},
		{"binary result frame", resultFrame, Extracted, resultFrame, len(resultFrame)},
		{"binary payload with reserved bytes", trickyFrame, Extracted, trickyFrame, len(trickyFrame)},
		{"binary frame followed by more", join(dataFrame, []byte("PING\r\n")), Extracted, dataFrame, len(dataFrame)},
		{"binary zero-padded count", paddedFrame, Extracted, paddedFrame, len(paddedFrame)},
		{"binary all-zero count", []byte("A_D@000@@\r\n"), Extracted, []byte("A_D@000@@\r\n"), 9},
		{"binary missing second at", []byte("A_D@2"), NeedMoreData, nil, 0},
		{"binary count interrupted before second at", []byte("A_D@12x"), Resync, nil, 1},
		{"binary count too large", []byte("A_D@0001234567890@\r\n"), Resync, nil, 1},
		{"binary partial payload", dataFrame[:20], NeedMoreData, nil, 0},
		{"binary missing tail", dataFrame[:len(dataFrame)-1], NeedMoreData, nil, 0},
		{"binary non-numeric count", []byte("A_D@x2@abc\r\n"), Resync, nil, 1},
		{"binary negative count", []byte("A_D@-1@\r\n"), Resync, nil, 1},
		{"binary empty count", []byte("A_D@@\r\n"), Resync, nil, 1},
		{"binary bad tail", join([]byte("A_D@1@"), payloadOf(8, 0), []byte("X\r\n")), Resync, nil, 1},
		{"unknown token with at and no terminator", []byte("X@Y"), NeedMoreData, nil, 0},
	}

	dec := NewDecoder(DefaultLimits())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]byte(nil), tt.in...)
			f, n, res := dec.TryExtract(in)
			if res != tt.wantRes {
				t.Fatalf("result = %v, want %v", res, tt.wantRes)
			}
			if n != tt.wantConsumed {
				t.Errorf("consumed = %d, want %d", n, tt.wantConsumed)
			}
			if !bytes.Equal(f, tt.wantFrame) {
				t.Errorf("frame = %q, want %q", f, tt.wantFrame)
			}
			if !bytes.Equal(in, tt.in) {
				t.Errorf("input mutated: %q", in)
			}
		})
	}
}

func TestDecoder_TryExtract_FrameIsCopy(t *testing.T) {
	dec := NewDecoder(DefaultLimits())
	in := []byte("PING\r\n")
	f, _, _ := dec.TryExtract(in)
	in[0] = 'X'
	if string(f) != "PING\r\n" {
		t.Errorf("frame aliases input: %q", f)
	}
}

func TestDecoder_DataScenario(t *testing.T) {
	header := []byte("A_D@2@")
	in := join(header, payloadOf(16, 0xAB), []byte("@\r\n"))

	var buf Buffer
	buf.Write(in)
	var got [][]byte
	buf.Drain(NewDecoder(DefaultLimits()), 0, func(f []byte) { got = append(got, f) })

	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
	if want := len(header) + 16 + 3; len(got[0]) != want {
		t.Errorf("frame length = %d, want %d", len(got[0]), want)
	}
	if buf.Len() != 0 {
		t.Errorf("leftover = %d bytes, want 0", buf.Len())
	}
}

func TestDecoder_Limits(t *testing.T) {
	dec := NewDecoder(Limits{MaxLineBytes: 8, MaxPayloadBytes: 64})

	t.Run("oversized pending line overflows", func(t *testing.T) {
		_, n, res := dec.TryExtract([]byte(strings.Repeat("x", 9)))
		if res != Overflow || n != 9 {
			t.Errorf("got %v/%d, want Overflow/9", res, n)
		}
	})

	t.Run("oversized pending line keeps trailing CR", func(t *testing.T) {
		_, n, res := dec.TryExtract([]byte(strings.Repeat("x", 9) + "\r"))
		if res != Overflow || n != 9 {
			t.Errorf("got %v/%d, want Overflow/9", res, n)
		}
	})

	t.Run("oversized terminated line dropped whole", func(t *testing.T) {
		_, n, res := dec.TryExtract([]byte(strings.Repeat("x", 9) + "\r\nPING\r\n"))
		if res != Resync || n != 11 {
			t.Errorf("got %v/%d, want Resync/11", res, n)
		}
	})

	t.Run("line at limit waits", func(t *testing.T) {
		_, _, res := dec.TryExtract([]byte(strings.Repeat("x", 8)))
		if res != NeedMoreData {
			t.Errorf("got %v, want NeedMoreData", res)
		}
	})

	t.Run("line at limit with CR waits", func(t *testing.T) {
		_, _, res := dec.TryExtract([]byte(strings.Repeat("x", 8) + "\r"))
		if res != NeedMoreData {
			t.Errorf("got %v, want NeedMoreData", res)
		}
	})

	t.Run("terminated line at limit extracts", func(t *testing.T) {
		in := []byte(strings.Repeat("x", 8) + "\r\n")
		_, n, res := dec.TryExtract(in)
		if res != Extracted || n != len(in) {
			t.Errorf("got %v/%d, want Extracted/%d", res, n, len(in))
		}
	})

	t.Run("oversized payload resyncs", func(t *testing.T) {
		_, n, res := dec.TryExtract([]byte("A_D@9@"))
		if res != Resync || n != 1 {
			t.Errorf("got %v/%d, want Resync/1", res, n)
		}
	})

	t.Run("binary header past the line limit resyncs", func(t *testing.T) {
		for _, in := range []string{"A_D@00000", "A_D@00000@@\r\n"} {
			_, n, res := dec.TryExtract([]byte(in))
			if res != Resync || n != 1 {
				t.Errorf("%q: got %v/%d, want Resync/1", in, res, n)
			}
		}
	})

	t.Run("binary header at the line limit waits", func(t *testing.T) {
		_, _, res := dec.TryExtract([]byte("A_D@0000"))
		if res != NeedMoreData {
			t.Errorf("got %v, want NeedMoreData", res)
		}
	})

	t.Run("payload within limit waits", func(t *testing.T) {
		_, _, res := dec.TryExtract([]byte("A_D@8@"))
		if res != NeedMoreData {
			t.Errorf("got %v, want NeedMoreData", res)
		}
	})
}

func TestDecoder_PayloadLen(t *testing.T) {
	dec := NewDecoder(Limits{})
	tests := []struct {
		token string
		count int
		want  int
		ok    bool
	}{
		{TokenData, 0, 0, true},
		{TokenData, 6, 48, true},
		{TokenResult, 0, 44, true},
		{TokenResult, 2, 44 + 96, true},
		{"A_M", 1, 0, false},
	}
	for _, tt := range tests {
		got, ok := dec.PayloadLen(tt.token, tt.count)
		if got != tt.want || ok != tt.ok {
			t.Errorf("PayloadLen(%s, %d) = %d, %v; want %d, %v", tt.token, tt.count, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDecoder_CustomRules(t *testing.T) {
	dec := NewDecoderWithRules(map[string]PayloadRule{
		"BIN": func(c int) int { return c },
	}, Limits{})

	in := []byte("BIN@3@abc@\r\n")
	f, n, res := dec.TryExtract(in)
	if res != Extracted || n != len(in) || !bytes.Equal(f, in) {
		t.Fatalf("got %q/%d/%v", f, n, res)
	}

	// A_D is an ordinary tokenized line for this decoder.
	f, _, res = dec.TryExtract([]byte("A_D@3@\r\n"))
	if res != Extracted || string(f) != "A_D@3@\r\n" {
		t.Errorf("got %q/%v", f, res)
	}
}

// streamLineLimit is the MaxLineBytes used with testStream.
const streamLineLimit = 32

// testStream is a mix of every frame kind, including a malformed binary
// header and lines on both sides of streamLineLimit.
func testStream() []byte {
	return join(
		[]byte("PING\r\n"),
		[]byte(strings.Repeat("L", streamLineLimit)+"\r\n"),
		[]byte(strings.Repeat("O", 3*streamLineLimit)+"\r\n"),
		[]byte("R_S@3@\r\n"),
		[]byte("X@"+strings.Repeat("T", 2*streamLineLimit)+"@\r\n"),
		[]byte("A_D@2@"), payloadOf(14, 0x01), []byte("\r\n@\r\n"),
		[]byte("A_D@zz@\r\n"),
		[]byte("A_R@1@"), payloadOf(92, 0x02), []byte("@\r\n"),
		[]byte("A_M@7@\r\n"),
		[]byte("DONE\r\n"),
	)
}

func decodeChunked(t *testing.T, dec *Decoder, in []byte, chunk func() int) ([][]byte, int) {
	t.Helper()
	var buf Buffer
	var frames [][]byte
	resync := 0
	for len(in) > 0 {
		n := chunk()
		if n > len(in) {
			n = len(in)
		}
		buf.Write(in[:n])
		in = in[n:]
		st := buf.Drain(dec, DefaultMaxIterations, func(f []byte) {
			frames = append(frames, f)
		})
		resync += st.ResyncBytes
	}
	if buf.Len() != 0 {
		t.Fatalf("leftover %q", buf.Bytes())
	}
	return frames, resync
}

func TestDecoder_ChunkingDeterminism(t *testing.T) {
	in := testStream()
	dec := NewDecoder(Limits{MaxLineBytes: streamLineLimit})
	whole, wholeResync := decodeChunked(t, dec, in, func() int { return len(in) })

	// PING, the line at the limit, R_S, the two binary frames, _D@zz@,
	// A_M and DONE; both over-long lines are gone.
	if len(whole) != 8 {
		t.Fatalf("whole: %d frames, want 8: %q", len(whole), whole)
	}
	for _, f := range whole {
		if len(f) > streamLineLimit+2 && !bytes.HasPrefix(f, []byte("A_")) {
			t.Errorf("over-long line extracted: %q", f)
		}
	}

	oneByte, oneResync := decodeChunked(t, dec, in, func() int { return 1 })

	rng := rand.New(rand.NewSource(7))
	random, randomResync := decodeChunked(t, dec, in, func() int { return 1 + rng.Intn(17) })

	// chunks that straddle the limit
	big, bigResync := decodeChunked(t, dec, in, func() int { return streamLineLimit + 5 })

	for name, got := range map[string][][]byte{"one-byte": oneByte, "random": random, "straddling": big} {
		if len(got) != len(whole) {
			t.Fatalf("%s: %d frames, want %d", name, len(got), len(whole))
		}
		for i := range whole {
			if !bytes.Equal(got[i], whole[i]) {
				t.Errorf("%s: frame %d = %q, want %q", name, i, got[i], whole[i])
			}
		}
	}
	if oneResync != wholeResync || randomResync != wholeResync || bigResync != wholeResync {
		t.Errorf("resync bytes differ: whole=%d one=%d random=%d straddling=%d",
			wholeResync, oneResync, randomResync, bigResync)
	}
}

func TestDecoder_ResyncRecoversFollowingFrames(t *testing.T) {
	valid := [][]byte{
		[]byte("PING\r\n"),
		join([]byte("A_D@1@"), payloadOf(8, 0x7F), []byte("@\r\n")),
		[]byte("R_C@2@\r\n"),
	}
	in := join(append([][]byte{[]byte("A_D@1x@\r\n")}, valid...)...)

	frames, resync := decodeChunked(t, NewDecoder(DefaultLimits()), in, func() int { return len(in) })
	if resync != 1 {
		t.Errorf("resync bytes = %d, want 1", resync)
	}
	if len(frames) < len(valid) {
		t.Fatalf("got %d frames, want at least %d", len(frames), len(valid))
	}
	tail := frames[len(frames)-len(valid):]
	for i := range valid {
		if !bytes.Equal(tail[i], valid[i]) {
			t.Errorf("frame %d = %q, want %q", i, tail[i], valid[i])
		}
	}
	// the only casualty is the malformed prefix byte
	if string(frames[0]) != "_D@1x@\r\n" {
		t.Errorf("first frame = %q", frames[0])
	}
}
