package natsrelay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/bft-labs/atlink/pkg/link"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu       sync.Mutex
	pubs     []published
	handlers map[string]nats.MsgHandler
	subErr   error
	drained  int
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pubs = append(c.pubs, published{subject, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	if c.subErr != nil {
		return nil, c.subErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]nats.MsgHandler)
	}
	c.handlers[subject] = cb
	return nil, nil
}

func (c *fakeConn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drained++
	return nil
}

func (c *fakeConn) deliver(subject string, data []byte) {
	c.mu.Lock()
	cb := c.handlers[subject]
	c.mu.Unlock()
	cb(&nats.Msg{Subject: subject, Data: data})
}

type sent struct {
	id uint64
	p  string
}

type fakePeer struct {
	mu         sync.Mutex
	sent       []sent
	broadcasts []string
}

func (p *fakePeer) SendTo(id uint64, b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{id, string(b)})
	return nil
}

func (p *fakePeer) Broadcast(b []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, string(b))
	return 2
}

func (p *fakePeer) Sessions() []link.SessionInfo    { return nil }
func (p *fakePeer) Reconfigure(link.Tunables) error { return nil }

func newTestPlugin(t *testing.T, fc *fakeConn, peer link.Peer) *Plugin {
	t.Helper()
	p := New(Config{URL: "nats://test:4222", Prefix: "gw"})
	var dialedURL string
	p.dial = func(url string, _ ...nats.Option) (conn, error) {
		dialedURL = url
		return fc, nil
	}
	if err := p.Initialize(context.Background(), link.PluginConfig{Role: link.RoleServer, Peer: peer}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if dialedURL != "nats://test:4222" {
		t.Errorf("dialed %q", dialedURL)
	}
	return p
}

func TestPlugin_PublishesUplink(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPlugin(t, fc, &fakePeer{})

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.OnFrame(link.FrameEvent{SessionID: 3, Remote: "10.0.0.1:4000", Frame: []byte("R_S@3@\r\n"), ReceivedAt: at})

	if len(fc.pubs) != 2 {
		t.Fatalf("published %d messages, want 2", len(fc.pubs))
	}
	if fc.pubs[0].subject != "gw.uplink.R_S" || fc.pubs[1].subject != "gw.uplink.all" {
		t.Errorf("subjects = %q, %q", fc.pubs[0].subject, fc.pubs[1].subject)
	}

	var msg UplinkMessage
	if err := json.Unmarshal(fc.pubs[0].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.SessionID != 3 || msg.Remote != "10.0.0.1:4000" || msg.Token != "R_S" || msg.Role != "server" {
		t.Errorf("message = %+v", msg)
	}
	if string(msg.Frame) != "R_S@3@\r\n" || msg.Text != "R_S@3@" {
		t.Errorf("frame/text = %q/%q", msg.Frame, msg.Text)
	}
	if !msg.Received.Equal(at) {
		t.Errorf("received_at = %v", msg.Received)
	}
}

func TestPlugin_BinaryFrameHasNoText(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPlugin(t, fc, &fakePeer{})

	f := append([]byte("A_D@1@"), make([]byte, 8)...)
	f = append(f, "@\r\n"...)
	p.OnFrame(link.FrameEvent{SessionID: 1, Frame: f})

	var msg UplinkMessage
	if err := json.Unmarshal(fc.pubs[0].data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if fc.pubs[0].subject != "gw.uplink.A_D" || msg.Text != "" || len(msg.Frame) != len(f) {
		t.Errorf("subject %q, message %+v", fc.pubs[0].subject, msg)
	}
}

func TestPlugin_Downlink(t *testing.T) {
	fc := &fakeConn{}
	peer := &fakePeer{}
	newTestPlugin(t, fc, peer)

	fc.deliver("gw.downlink", []byte(`{"session_id":4,"data":"STOP"}`))
	fc.deliver("gw.downlink", []byte(`{"data":"R_S@1@\r\n"}`))
	fc.deliver("gw.downlink", []byte(`{"session_id":5,"raw":"QUJD"}`))
	fc.deliver("gw.downlink", []byte(`not json`))
	fc.deliver("gw.downlink", []byte(`{"session_id":6}`))

	want := []sent{{4, "STOP\r\n"}, {5, "ABC"}}
	if len(peer.sent) != len(want) {
		t.Fatalf("sent = %+v, want %+v", peer.sent, want)
	}
	for i := range want {
		if peer.sent[i] != want[i] {
			t.Errorf("sent[%d] = %+v, want %+v", i, peer.sent[i], want[i])
		}
	}
	if len(peer.broadcasts) != 1 || peer.broadcasts[0] != "R_S@1@\r\n" {
		t.Errorf("broadcasts = %q", peer.broadcasts)
	}
}

func TestPlugin_Shutdown(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPlugin(t, fc, &fakePeer{})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if fc.drained != 1 {
		t.Errorf("drained %d times, want 1", fc.drained)
	}

	p.OnFrame(link.FrameEvent{Frame: []byte("PING\r\n")})
	if len(fc.pubs) != 0 {
		t.Errorf("published after shutdown: %d", len(fc.pubs))
	}
}

func TestPlugin_Disabled(t *testing.T) {
	p := New(Config{})
	p.dial = func(string, ...nats.Option) (conn, error) {
		t.Fatal("dial called without url")
		return nil, nil
	}
	if err := p.Initialize(context.Background(), link.PluginConfig{}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	p.OnFrame(link.FrameEvent{Frame: []byte("PING\r\n")})
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestPlugin_InitializeErrors(t *testing.T) {
	p := New(Config{URL: "nats://x"})
	p.dial = func(string, ...nats.Option) (conn, error) {
		return nil, errors.New("refused")
	}
	if err := p.Initialize(context.Background(), link.PluginConfig{}); err == nil {
		t.Error("expected dial error")
	}

	fc := &fakeConn{subErr: errors.New("denied")}
	p = New(Config{URL: "nats://x"})
	p.dial = func(string, ...nats.Option) (conn, error) { return fc, nil }
	if err := p.Initialize(context.Background(), link.PluginConfig{}); err == nil {
		t.Error("expected subscribe error")
	}
	if fc.drained != 1 {
		t.Errorf("connection not drained after subscribe failure")
	}
}

func TestPlugin_AllTokenDoesNotHitCatchAll(t *testing.T) {
	fc := &fakeConn{}
	p := newTestPlugin(t, fc, &fakePeer{})

	p.OnFrame(link.FrameEvent{SessionID: 1, Frame: []byte("all@1@\r\n")})

	if len(fc.pubs) != 2 {
		t.Fatalf("published %d messages, want 2", len(fc.pubs))
	}
	if fc.pubs[0].subject != "gw.uplink._all" || fc.pubs[1].subject != "gw.uplink.all" {
		t.Errorf("subjects = %q, %q", fc.pubs[0].subject, fc.pubs[1].subject)
	}
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"R_S":      "R_S",
		"":         "_",
		"a.b":      "a_b",
		"x*>":      "x__",
		"HI THERE": "HI_THERE",
		"all":      "_all",
		"ALL":      "ALL",
		"all.x":    "all_x",
	}
	for in, want := range tests {
		if got := subjectToken(in); got != want {
			t.Errorf("subjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}
