package loki

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const pushTimeout = 10 * time.Second

// MessageReader is the part of *kafka.Reader the archiver uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Archiver copies relay events from Kafka into Loki.
type Archiver struct {
	reader MessageReader
	client *Client
	logger *slog.Logger
}

func NewArchiver(reader MessageReader, client *Client, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{reader: reader, client: client, logger: logger.With("component", "archiver")}
}

// Run reads until ctx is done. Push failures are logged and the message is skipped;
// the reader commits offsets on its own.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		msg, err := a.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("kafka read failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := a.client.PushEventJSON(pushCtx, msg.Value); err != nil {
			a.logger.Error("loki push failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		cancel()
	}
}
