package ports

import (
	"context"
	"time"

	"cobranzas/internal/domain"
)

// Message is what leaves the system through a Sender.
type Message struct {
	Channel     domain.Channel
	Destination string
	Text        string
	FacturaID   string
	Template    string
}

// Sender delivers one message on a channel. This is the system boundary.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RateLimiter counts sends per key and day.
type RateLimiter interface {
	// Allow consumes one unit of key's budget for day and reports whether it
	// was within limit.
	Allow(ctx context.Context, key string, limit int, day time.Time) (bool, error)
	// Refund returns a unit taken by Allow whose message was never delivered.
	Refund(ctx context.Context, key string, day time.Time) error
}
