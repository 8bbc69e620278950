package statusapi

import "github.com/bft-labs/atlink/pkg/link"

// WithStatusAPI returns a link Option that serves the status API on addr.
//
// Usage:
//
//	srv, err := link.NewServer(cfg,
//	    link.WithRegistry(prometheus.NewRegistry()),
//	    statusapi.WithStatusAPI("127.0.0.1:9100"),
//	)
func WithStatusAPI(addr string) link.Option {
	return link.WithPlugin(New(Config{Addr: addr}))
}
