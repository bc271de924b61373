package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client wraps a single AMQP connection/channel pair with the publish and
// consume helpers every workflow component needs. Spec §5: "AMQP
// operations use the configured connection-level timeout."
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial opens a connection with the given connection-level timeout.
func Dial(url string, timeout time.Duration) (*Client, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("broker: open channel: %w", err)
	}
	return &Client{conn: conn, ch: ch}, nil
}

func (c *Client) Channel() *amqp.Channel { return c.ch }

func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		c.conn.Close()
		return err
	}
	return c.conn.Close()
}

// PublishOpts configures a single publish call.
type PublishOpts struct {
	Expiration time.Duration // per-message TTL; 0 means no expiration
	Persistent bool
}

// Publish sends body to exchange with routingKey, applying PublishOpts.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte, opts PublishOpts) error {
	mode := amqp.Transient
	if opts.Persistent {
		mode = amqp.Persistent
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: mode,
	}
	if opts.Expiration > 0 {
		msg.Expiration = strconv.FormatInt(opts.Expiration.Milliseconds(), 10)
	}
	return c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Consume starts a consumer on queue and returns the delivery channel.
func (c *Client) Consume(ctx context.Context, queue, consumerTag string) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, queue, consumerTag, false, false, false, false, nil)
}

// DeathEntry is one element of the broker-populated x-death header table
// (spec §6: "Message headers carry x-death ... for resubmit counting").
type DeathEntry struct {
	Queue              string
	Count              int64
	OriginalExpiration time.Duration
}

// ParseXDeath extracts the x-death table from a delivery's headers. Per
// spec 4.F supplement #2, the issuer reads the count for the per-tag
// resolver queue the message most recently dead-lettered from.
func ParseXDeath(headers amqp.Table) []DeathEntry {
	raw, ok := headers["x-death"].([]any)
	if !ok {
		// amqp091-go decodes array-of-table as []interface{} of
		// amqp.Table entries in practice; also accept that shape directly.
		if table, ok := headers["x-death"].([]amqp.Table); ok {
			return parseXDeathTables(table)
		}
		return nil
	}
	tables := make([]amqp.Table, 0, len(raw))
	for _, v := range raw {
		if t, ok := v.(amqp.Table); ok {
			tables = append(tables, t)
		}
	}
	return parseXDeathTables(tables)
}

func parseXDeathTables(tables []amqp.Table) []DeathEntry {
	entries := make([]DeathEntry, 0, len(tables))
	for _, t := range tables {
		entry := DeathEntry{}
		if q, ok := t["queue"].(string); ok {
			entry.Queue = q
		}
		switch cnt := t["count"].(type) {
		case int64:
			entry.Count = cnt
		case int32:
			entry.Count = int64(cnt)
		}
		if expMs, ok := t["original-expiration"].(string); ok {
			if ms, err := strconv.ParseInt(expMs, 10, 64); err == nil {
				entry.OriginalExpiration = time.Duration(ms) * time.Millisecond
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

// ResubmitCount returns the death count for the named queue, 0 if absent
// (spec SPEC_FULL.md supplement #2).
func ResubmitCount(headers amqp.Table, queue string) int64 {
	for _, e := range ParseXDeath(headers) {
		if e.Queue == queue {
			return e.Count
		}
	}
	return 0
}

// OriginalExpiration returns the per-message TTL (original-expiration)
// recorded in the first x-death entry, used by the polling state machine
// to compute the next backoff interval (spec 4.G).
func OriginalExpiration(headers amqp.Table) (time.Duration, bool) {
	entries := ParseXDeath(headers)
	if len(entries) == 0 {
		return 0, false
	}
	return entries[0].OriginalExpiration, entries[0].OriginalExpiration > 0
}
