package natsrelay

import "github.com/bft-labs/atlink/pkg/link"

// WithNATSRelay returns a link Option that enables the NATS relay.
//
// Usage:
//
//	srv, err := link.NewServer(cfg,
//	    natsrelay.WithNATSRelay(natsrelay.Config{
//	        URL:    "nats://127.0.0.1:4222",
//	        Prefix: "atlink",
//	    }),
//	)
func WithNATSRelay(cfg Config) link.Option {
	return link.WithPlugin(New(cfg))
}
