package redispresence

import "github.com/bft-labs/atlink/pkg/link"

// WithRedisPresence returns a link Option that records sessions in Redis.
//
// Usage:
//
//	srv, err := link.NewServer(cfg,
//	    redispresence.WithRedisPresence(redispresence.Config{
//	        URL:  "redis://localhost:6379/0",
//	        Node: "gw-1",
//	    }),
//	)
func WithRedisPresence(cfg Config) link.Option {
	return link.WithPlugin(New(cfg))
}
