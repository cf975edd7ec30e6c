// Package natskv provides the durable cache transport on NATS JetStream
// KV. It owns connection management and bucket provisioning; the fail-soft
// behavior the read path depends on lives in the tiercache package, which
// treats every error from here as a miss.
package natskv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// ClientConfig holds NATS connection settings.
type ClientConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Client manages the NATS connection and JetStream handle.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect establishes the NATS connection and JetStream context.
func Connect(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Name == "" {
		cfg.Name = "stattrackr"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natskv", "Connect", cfg.URL)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapFatal(err, "natskv", "Connect", "jetstream context")
	}

	return &Client{conn: conn, js: js, logger: logger}, nil
}

// Bucket opens the named KV bucket, creating it if absent.
func (c *Client) Bucket(ctx context.Context, name string) (*Store, error) {
	kv, err := c.js.KeyValue(ctx, name)
	if err != nil {
		kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: fmt.Sprintf("stattrackr %s bucket", name),
			History:     1,
		})
		if err != nil {
			return nil, errors.WrapTransient(err, "natskv", "Bucket", name)
		}
	}
	return newStore(kv, c.logger), nil
}

// Close drains the connection.
func (c *Client) Close() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("nats drain failed", "error", err)
			c.conn.Close()
		}
	}
}
