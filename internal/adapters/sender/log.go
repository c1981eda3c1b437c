// Package sender holds implementations of ports.Sender.
package sender

import (
	"context"
	"log"

	"cobranzas/internal/ports"
)

// LogSender prints messages instead of delivering them. For local runs.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg ports.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("[%s] -> %s (%s): %s", msg.Channel, msg.Destination, msg.Template, msg.Text)
	return nil
}
