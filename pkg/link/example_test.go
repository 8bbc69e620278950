package link_test

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/bft-labs/atlink/pkg/link"
)

// frameChan forwards received frames to a channel.
type frameChan struct {
	link.NopEventHandler
	frames chan string
}

func (h *frameChan) OnFrame(e link.FrameEvent) {
	h.frames <- string(e.Frame)
}

// ExampleNewServer shows a server and client exchanging one frame over
// loopback.
func ExampleNewServer() {
	received := &frameChan{frames: make(chan string, 1)}

	srvCfg := link.DefaultServerConfig()
	srvCfg.BindHost = "127.0.0.1"
	srv, err := link.NewServer(srvCfg, link.WithEventHandler(received))
	if err != nil {
		fmt.Printf("failed to create server: %v\n", err)
		return
	}
	if err := srv.Start(context.Background(), 0); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}
	defer srv.Stop()

	c, err := link.NewClient(link.DefaultClientConfig())
	if err != nil {
		fmt.Printf("failed to create client: %v\n", err)
		return
	}
	if err := c.Start(context.Background(), "127.0.0.1", tcpPort(srv)); err != nil {
		fmt.Printf("failed to connect: %v\n", err)
		return
	}
	defer c.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Await(ctx); err != nil {
		fmt.Printf("no session: %v\n", err)
		return
	}
	_ = c.Send([]byte("PING\r\n"))

	select {
	case f := <-received.frames:
		fmt.Printf("server received %q\n", f)
	case <-ctx.Done():
		fmt.Println("timed out")
	}

	// Output: server received "PING\r\n"
}

// ExampleClient_Send shows that sending before a session exists fails fast.
func ExampleClient_Send() {
	c, err := link.NewClient(link.DefaultClientConfig())
	if err != nil {
		fmt.Printf("failed to create client: %v\n", err)
		return
	}
	err = c.Send([]byte("PING\r\n"))
	fmt.Println(err == link.ErrNotConnected)

	// Output: true
}

func tcpPort(s *link.Server) int {
	return s.Addr().(*net.TCPAddr).Port
}
