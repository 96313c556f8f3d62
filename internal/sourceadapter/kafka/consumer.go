// Package kafka adapts github.com/segmentio/kafka-go's reader to the
// sourceadapter.Consumer contract. The teacher's own stream-adapter tree
// declared this dependency in go.mod but never wired a working reader
// behind it (its kafka adapter files were empty stubs); this is the
// implementation that dependency was always meant to back.
package kafka

import (
	"context"
	"fmt"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/sourceadapter"
)

func init() {
	sourceadapter.Register(model.Kafka, func() sourceadapter.Consumer { return &Consumer{} })
}

// Consumer is a sourceadapter.Consumer backed by a single kafka-go reader.
type Consumer struct {
	mu     sync.Mutex
	reader *kafkago.Reader
}

// Type implements sourceadapter.Consumer.
func (c *Consumer) Type() model.ConnectionType { return model.Kafka }

// Connect builds a kafka-go Reader for the source's address and group.
// specificConfig honors "groupId" (default "connectivity-service") and
// "topic"; no other keys, such as fetch-size limits, are read.
func (c *Consumer) Connect(ctx context.Context, source model.Source, specificConfig map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	groupID := specificConfig["groupId"]
	if groupID == "" {
		groupID = "connectivity-service"
	}

	cfg := kafkago.ReaderConfig{
		Brokers: []string{source.Address},
		GroupID: groupID,
		Topic:   specificConfig["topic"],
	}
	c.reader = kafkago.NewReader(cfg)
	return nil
}

// Consume fetches messages one at a time (no auto-commit — the at-least-once
// consumer stream in internal/consumer owns the commit decision) and invokes
// handler for each.
func (c *Consumer) Consume(ctx context.Context, handler sourceadapter.RecordHandler) error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return fmt.Errorf("kafka consumer: Connect was not called")
	}

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka consumer: fetch message: %w", err)
		}

		rec := sourceadapter.Record{
			Topic:     msg.Topic,
			Partition: int32(msg.Partition),
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Headers:   headersToMap(msg.Headers),
			Timestamp: msg.Time,
		}
		if err := handler(ctx, rec); err != nil {
			return err
		}
	}
}

// CommitOffset commits the offset for a partition via the underlying reader.
func (c *Consumer) CommitOffset(ctx context.Context, partition int32, offset int64) error {
	c.mu.Lock()
	reader := c.reader
	c.mu.Unlock()
	if reader == nil {
		return fmt.Errorf("kafka consumer: Connect was not called")
	}

	msg := kafkago.Message{Partition: int(partition), Offset: offset}
	if err := reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka consumer: commit offset: %w", err)
	}
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

func headersToMap(headers []kafkago.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[h.Key] = string(h.Value)
	}
	return out
}
