// Package sourceadapter defines the contract a Source-side consumer
// implementation (Kafka, MQTT, MQTT5, ...) must satisfy to feed the
// at-least-once consumer stream in internal/consumer. It is a trimmed,
// consumer-only descendant of the platform-agnostic stream adapter contract
// this codebase used to carry for producer/consumer/admin operations across
// a dozen messaging platforms — SPEC_FULL.md only needs the consumer half,
// for exactly the connection types the transport validator recognizes.
package sourceadapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redbco/redb-connect/internal/model"
)

// Record is a single inbound message read from a source, prior to transform.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// RecordHandler is invoked for each Record read from a source. Returning an
// error stops the adapter's Consume loop, which returns that error.
type RecordHandler func(ctx context.Context, rec Record) error

// Consumer is the minimal contract a source-type adapter must implement:
// connect, subscribe, stream records to a handler, commit offsets, close.
type Consumer interface {
	// Type returns the ConnectionType this adapter serves.
	Type() model.ConnectionType

	// Connect establishes the underlying transport connection for a Source.
	Connect(ctx context.Context, source model.Source, specificConfig map[string]string) error

	// Consume streams records to handler until ctx is cancelled or a
	// non-retryable error occurs.
	Consume(ctx context.Context, handler RecordHandler) error

	// CommitOffset commits a strictly monotonically increasing offset for a
	// partition; committing an offset lower than the last committed one is
	// a caller error.
	CommitOffset(ctx context.Context, partition int32, offset int64) error

	// Close releases the underlying transport connection.
	Close() error
}

// Factory constructs a new, unconnected Consumer for a ConnectionType.
type Factory func() Consumer

var (
	registryMu sync.RWMutex
	registry   = make(map[model.ConnectionType]Factory)
)

// Register installs a Factory for a ConnectionType. Adapter packages call
// this from an init() func, the same self-registration pattern the platform
// already uses for its pluggable backends.
func Register(t model.ConnectionType, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// New constructs a Consumer for a ConnectionType, or an error if no adapter
// has registered for it.
func New(t model.ConnectionType) (Consumer, error) {
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source adapter registered for connection type %s", t)
	}
	return factory(), nil
}

// IsRegistered reports whether a ConnectionType has a registered adapter.
func IsRegistered(t model.ConnectionType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[t]
	return ok
}
