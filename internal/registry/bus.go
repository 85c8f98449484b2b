package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/easeaico/agent-chat/internal/types"
)

type interruptMessage struct {
	SessionID string `json:"sessionId"`
	Origin    string `json:"origin"`
}

// RedisBus fans interrupt requests out to every replica. A replica that receives one applies it
// to its local registry; the stream is owned by whichever replica registered it.
type RedisBus struct {
	rdb      *goredis.Client
	channel  string
	origin   string
	registry *Registry
}

func NewRedisBus(ctx context.Context, addr, channel string, reg *Registry) (*RedisBus, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	if channel == "" {
		channel = "agent-chat:interrupt"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newRedisBus(rdb, channel, reg), nil
}

func newRedisBus(rdb *goredis.Client, channel string, reg *Registry) *RedisBus {
	return &RedisBus{
		rdb:      rdb,
		channel:  channel,
		origin:   uuid.NewString(),
		registry: reg,
	}
}

// Interrupt applies the interrupt locally and, when this replica does not own the stream,
// publishes it for the others and reports InterruptForwarded.
func (b *RedisBus) Interrupt(ctx context.Context, sessionID string) (types.InterruptResult, error) {
	if b.registry.Interrupt(sessionID) {
		return types.InterruptApplied, nil
	}
	raw, err := json.Marshal(interruptMessage{SessionID: sessionID, Origin: b.origin})
	if err != nil {
		return types.InterruptNotLive, err
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return types.InterruptNotLive, fmt.Errorf("failed to publish interrupt: %w", err)
	}
	return types.InterruptForwarded, nil
}

// Start subscribes to the channel and applies remote interrupts until ctx is done.
func (b *RedisBus) Start(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				b.handle(m.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBus) handle(payload string) bool {
	var msg interruptMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Warn("bad interrupt payload", "error", err.Error())
		return false
	}
	if msg.Origin == b.origin || msg.SessionID == "" {
		return false
	}
	return b.registry.Interrupt(msg.SessionID)
}

func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
