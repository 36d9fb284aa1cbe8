package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/occopus/infra-processor/internal/config"
	"github.com/occopus/infra-processor/internal/processor"
	"github.com/occopus/infra-processor/internal/shared/logger"
)

const controlTimeout = 10 * time.Second

// Client is the producer side of the remote processor: it serializes command
// batches onto the work subject and management commands onto the control
// subject.
type Client struct {
	nc     *nats.Conn
	config config.NATSConfig
	logger *logger.Logger
}

// NewClient connects to the configured NATS server.
func NewClient(cfg config.NATSConfig, log *logger.Logger) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("infra-processor-client"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Client{nc: nc, config: cfg, logger: log.WithComponent("remote-client")}, nil
}

// Push sends a batch to the remote processor, fire and forget.
func (c *Client) Push(ctx context.Context, cmds ...processor.Command) error {
	data, err := encodeBatch(cmds)
	if err != nil {
		return err
	}
	if err := c.nc.Publish(c.config.WorkSubject, data); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	c.logger.Debug("batch published",
		slog.Int("commands", len(cmds)),
		slog.String("subject", c.config.WorkSubject))
	return nil
}

// CancelPending sends a skip-until command on the control channel and waits
// for the remote processor's acknowledgement.
func (c *Client) CancelPending(ctx context.Context, deadline time.Time) error {
	data, err := encodeControl(processor.NewSkipUntil(deadline))
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	msg, err := c.nc.RequestWithContext(reqCtx, c.config.ControlSubject, data)
	if err != nil {
		return fmt.Errorf("control request failed: %w", err)
	}
	return decodeReply(msg.Data)
}

// Close drains the connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Drain()
		c.nc.Close()
	}
}
