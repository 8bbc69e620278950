// Package atlink runs framed TCP links to line-oriented instruments.
//
// Example usage:
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	cfg := atlink.DefaultServerConfig()
//	cfg.Mode = atlink.ModeMulti
//	if err := atlink.Serve(ctx, cfg, 5000, atlink.WithEventHandler(h)); err != nil {
//	    log.Fatal(err)
//	}
//
// Serve and Connect block until ctx is cancelled. Use pkg/link directly to
// send frames or inspect sessions while the link runs.
package atlink

import (
	"context"

	"github.com/bft-labs/atlink/pkg/link"
)

// ServerConfig configures a listening peer.
type ServerConfig = link.ServerConfig

// ClientConfig configures a connecting peer.
type ClientConfig = link.ClientConfig

// Option configures optional behavior of a link.
type Option = link.Option

// EventHandler receives frames and connection changes.
type EventHandler = link.EventHandler

// FrameEvent carries one complete frame.
type FrameEvent = link.FrameEvent

// Server modes.
const (
	ModeSingle = link.ModeSingle
	ModeMulti  = link.ModeMulti
)

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return link.DefaultServerConfig()
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return link.DefaultClientConfig()
}

// WithEventHandler sets the handler for link events.
func WithEventHandler(h EventHandler) Option {
	return link.WithEventHandler(h)
}

// Serve listens on port until ctx is cancelled, then stops gracefully.
func Serve(ctx context.Context, cfg ServerConfig, port int, opts ...Option) error {
	srv, err := link.NewServer(cfg, opts...)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx, port); err != nil {
		return err
	}
	<-ctx.Done()
	return srv.Stop()
}

// Connect keeps a client session to host:port alive until ctx is
// cancelled, then stops gracefully.
func Connect(ctx context.Context, cfg ClientConfig, host string, port int, opts ...Option) error {
	c, err := link.NewClient(cfg, opts...)
	if err != nil {
		return err
	}
	if err := c.Start(ctx, host, port); err != nil {
		return err
	}
	<-ctx.Done()
	return c.Stop()
}
