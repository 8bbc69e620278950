// Package link implements both ends of a persistent TCP link that carries
// CRLF-terminated text frames and length-prefixed binary frames.
//
// A Client dials a server and keeps reconnecting with a doubling backoff
// until stopped. A Server accepts connections and keeps a registry of
// sessions, either evicting older connections (ModeSingle) or keeping all
// of them (ModeMulti). Both deliver every decoded frame, terminator
// included, to an EventHandler in wire order per connection.
//
// # Usage
//
// Run a server:
//
//	srv, err := link.NewServer(link.DefaultServerConfig(),
//	    link.WithLogger(logger),
//	    link.WithEventHandler(handler),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := srv.Start(ctx, 5000); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
//	srv.Broadcast([]byte("R_S@3@\r\n"))
//
// Run a client:
//
//	cli, err := link.NewClient(link.DefaultClientConfig(), link.WithEventHandler(handler))
//	if err != nil {
//	    return err
//	}
//	_ = cli.Start(ctx, "127.0.0.1", 5000)
//	defer cli.Stop()
//
//	if err := cli.Send([]byte("PING\r\n")); errors.Is(err, link.ErrNotConnected) {
//	    // no live session; nothing was queued
//	}
//
// # Errors
//
// I/O errors, read timeouts and malformed frames never surface to callers:
// sessions end, the server drops them from its registry and the client
// reconnects. Only usage errors such as ErrNotConnected are returned.
//
// # Liveness
//
// When LivenessConfig.Enabled is set, each session is probed every
// interval. A failed probe write or a socket that reads as half-closed
// marks the session dead and closes it, which drives the normal cleanup.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
//
// See version.go for version constants that can be used programmatically.
package link
