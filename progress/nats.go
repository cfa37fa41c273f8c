package progress

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials the NATS server at url and returns a sink plus a close
// function that flushes pending publishes.
func ConnectNATS(url, subject string, logger *slog.Logger) (*NATSSink, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("semheal"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Progress stream disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("Progress stream reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	closeFn := func() {
		if err := nc.FlushTimeout(2 * time.Second); err != nil {
			logger.Debug("Progress stream flush failed", "error", err)
		}
		nc.Close()
	}
	return NewNATSSink(nc, subject), closeFn, nil
}
