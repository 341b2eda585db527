package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// maxNotifyPayload is below the server's 8000 byte NOTIFY limit
const maxNotifyPayload = 7900

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresBridge relays events with LISTEN/NOTIFY
type PostgresBridge struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPostgresBridge connects a pool for url
func NewPostgresBridge(ctx context.Context, url, channel string) (*PostgresBridge, error) {
	if channel == "" {
		channel = DefaultChannel
	}
	if !channelPattern.MatchString(channel) {
		return nil, fmt.Errorf("invalid notify channel: %q", channel)
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return &PostgresBridge{pool: pool, channel: channel}, nil
}

// Publish sends payload with pg_notify. Payloads too large for NOTIFY are
// sent without their data so receivers refetch.
func (b *PostgresBridge) Publish(ctx context.Context, payload []byte) error {
	if len(payload) > maxNotifyPayload {
		stripped, err := stripData(payload)
		if err != nil {
			return err
		}
		payload = stripped
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", b.channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify: %w", err)
	}
	return nil
}

func (b *PostgresBridge) Run(ctx context.Context, deliver func([]byte)) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	defer conn.Release()

	// channel is validated in the constructor; LISTEN takes no parameters
	if _, err := conn.Exec(ctx, "LISTEN "+b.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.channel, err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		deliver([]byte(n.Payload))
	}
}

func (b *PostgresBridge) Close() error {
	b.pool.Close()
	return nil
}

func stripData(payload []byte) ([]byte, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	ev.Data = nil
	return json.Marshal(ev)
}
