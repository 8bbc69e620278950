package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/bft-labs/atlink/pkg/frame"
	"github.com/bft-labs/atlink/pkg/link"
	"github.com/bft-labs/atlink/pkg/log"
)

var errNoSessions = errors.New("no connected sessions")

// frameLogger logs link events for the operator.
type frameLogger struct {
	logger log.Logger
}

func newFrameLogger(logger log.Logger) *frameLogger {
	return &frameLogger{logger: logger}
}

func (h *frameLogger) OnFrame(e link.FrameEvent) {
	fields := []log.Field{
		log.Session(e.SessionID),
		log.String("token", frame.Token(e.Frame)),
		log.Int("bytes", len(e.Frame)),
	}
	if count, _, ok := frame.Payload(e.Frame); ok {
		fields = append(fields, log.Int("count", count))
	} else {
		fields = append(fields, log.String("line", strings.TrimSuffix(string(e.Frame), "\r\n")))
	}
	h.logger.Info("frame", fields...)
}

func (h *frameLogger) OnConnectionChange(e link.ConnectionEvent) {
	if e.Connected {
		h.logger.Info("session opened", log.Session(e.SessionID), log.String("remote", e.Remote))
		return
	}
	h.logger.Info("session closed",
		log.Session(e.SessionID),
		log.String("remote", e.Remote),
		log.String("reason", e.Reason))
}

func (h *frameLogger) OnRetry(e link.RetryEvent) {
	fields := []log.Field{log.Int("attempt", e.Attempt), log.Duration("delay", e.Delay)}
	if e.Err != nil {
		fields = append(fields, log.Err(e.Err))
	}
	h.logger.Warn("reconnecting", fields...)
}

// lineToFrame turns a console line into a frame. Lines with an '@' are
// sent as typed; anything else is a plain command.
func lineToFrame(line string) ([]byte, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.Contains(line, "@") {
		return []byte(line + "\r\n"), nil
	}
	return frame.Command(line)
}

// broadcastSender sends console frames to every server session.
func broadcastSender(p link.Peer) func([]byte) error {
	return func(b []byte) error {
		if p.Broadcast(b) == 0 {
			return errNoSessions
		}
		return nil
	}
}

// runConsole sends each non-empty line of r until r ends or ctx is done.
func runConsole(ctx context.Context, r io.Reader, send func([]byte) error, logger log.Logger) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		f, err := lineToFrame(line)
		if err != nil {
			logger.Warn("invalid console line", log.String("line", line), log.Err(err))
			continue
		}
		if err := send(f); err != nil {
			logger.Warn("console send failed", log.Err(err))
		}
	}
	if err := sc.Err(); err != nil {
		logger.Debug("console closed", log.Err(err))
	}
}

var _ link.EventHandler = (*frameLogger)(nil)
