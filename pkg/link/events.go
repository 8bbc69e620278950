package link

import (
	"fmt"
	"time"

	"github.com/bft-labs/atlink/pkg/log"
)

// Role identifies which side of the link produced an event.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// FrameEvent carries one complete frame, terminator included.
type FrameEvent struct {
	SessionID  uint64
	Remote     string
	Frame      []byte
	ReceivedAt time.Time
}

// ConnectionEvent reports a session being registered or torn down.
type ConnectionEvent struct {
	SessionID uint64
	Remote    string
	Connected bool
	Reason    string
}

// RetryEvent reports a pending reconnect.
type RetryEvent struct {
	Attempt int
	Delay   time.Duration
	Err     error
}

// EventHandler receives link events. Methods are called synchronously from
// the session or supervisor goroutine, so frames from one connection arrive
// in wire order. Implementations should return quickly.
type EventHandler interface {
	OnFrame(FrameEvent)
	OnConnectionChange(ConnectionEvent)
	OnRetry(RetryEvent)
}

// NopEventHandler ignores every event. Embed it to implement only the
// methods you need.
type NopEventHandler struct{}

func (NopEventHandler) OnFrame(FrameEvent)                 {}
func (NopEventHandler) OnConnectionChange(ConnectionEvent) {}
func (NopEventHandler) OnRetry(RetryEvent)                 {}

// dispatcher fans events out to the primary handler, then to plugins. A
// handler that panics is logged and skipped; the remaining handlers and
// the session keep running.
type dispatcher struct {
	handlers []EventHandler
	logger   log.Logger
}

func newDispatcher(primary EventHandler, plugins []Plugin, logger log.Logger) *dispatcher {
	d := &dispatcher{logger: logger}
	if primary != nil {
		d.handlers = append(d.handlers, primary)
	}
	for _, p := range plugins {
		if h, ok := p.(EventHandler); ok {
			d.handlers = append(d.handlers, h)
		}
	}
	return d
}

func (d *dispatcher) OnFrame(e FrameEvent) {
	for _, h := range d.handlers {
		d.call("OnFrame", h, func() { h.OnFrame(e) })
	}
}

func (d *dispatcher) OnConnectionChange(e ConnectionEvent) {
	for _, h := range d.handlers {
		d.call("OnConnectionChange", h, func() { h.OnConnectionChange(e) })
	}
}

func (d *dispatcher) OnRetry(e RetryEvent) {
	for _, h := range d.handlers {
		d.call("OnRetry", h, func() { h.OnRetry(e) })
	}
}

func (d *dispatcher) call(event string, h EventHandler, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				log.String("event", event),
				log.String("handler", fmt.Sprintf("%T", h)),
				log.Err(fmt.Errorf("panic: %v", r)))
		}
	}()
	fn()
}
