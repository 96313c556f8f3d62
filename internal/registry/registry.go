// Package registry owns the live set of connections: each one's validated
// Connection, its outbound publisher pipeline, and (for source-capable
// types) its consumer stream and source adapter. Connections are replaced
// atomically on modify, never mutated in place — the same swap-the-pointer
// discipline model.Connection documents, generalized here to the handle
// bundle a running connection actually needs.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redbco/redb-connect/internal/consumer"
	"github.com/redbco/redb-connect/internal/model"
	"github.com/redbco/redb-connect/internal/publisher"
	"github.com/redbco/redb-connect/internal/sourceadapter"
	"github.com/redbco/redb-connect/internal/throttle"
	"github.com/redbco/redb-connect/internal/transportvalidate"
	"github.com/redbco/redb-connect/pkg/logger"
)

// consumePollBackoff is how long the source-consumption bridge waits before
// retrying Stream.Offer (buffer full) or re-checking the throttling alert
// (ABOVE_LIMIT) before pulling the next record.
const consumePollBackoff = 50 * time.Millisecond

// Entry bundles a validated Connection with its running handles.
type Entry struct {
	Connection *model.Connection
	Publisher  *publisher.Pipeline
	Stream     *consumer.Stream
	Source     sourceadapter.Consumer // nil if the connection type has no sources wired

	cancel context.CancelFunc
}

// Registry is the process-wide table of open connections.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	throttle *throttle.Registry
	log      *logger.Logger
}

// New creates an empty Registry.
func New(log *logger.Logger) *Registry {
	return &Registry{
		entries:  make(map[string]*Entry),
		throttle: throttle.NewRegistry(),
		log:      log,
	}
}

// Open validates a Connection, builds its publisher pipeline (and, if the
// connection type allows sources and carries any, its consumer stream), and
// installs it under its ID. Opening a connection ID that already exists
// swaps the new entry in first and then drains and closes the prior one —
// the same modify-then-swap
// rule SPEC_FULL.md §5 describes for ModifyConnection.
func (r *Registry) Open(ctx context.Context, conn *model.Connection, pubCfg publisher.Config, consCfg consumer.Config) error {
	if err := transportvalidate.Validate(conn); err != nil {
		return err
	}

	entry, err := r.build(conn, pubCfg, consCfg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	prior := r.entries[conn.ID]
	r.entries[conn.ID] = entry
	r.mu.Unlock()

	if prior != nil {
		r.closeEntry(ctx, prior)
	}
	return nil
}

// build wires a freshly-validated Connection into a runnable Entry, without
// installing it into the registry. For a connection that carries sources,
// build also starts its consumer stream and bridges the source adapter's
// Consume loop into it, so the at-least-once path (SPEC_FULL.md §4.6) and
// the per-connection throttling alert (§4.7) are both live for the
// lifetime of the connection, not just exercised by unit tests.
func (r *Registry) build(conn *model.Connection, pubCfg publisher.Config, consCfg consumer.Config) (*Entry, error) {
	publishWindow := r.throttle.WindowFor(conn.ID+":publish", time.Now())
	pipeline, err := publisher.New(conn, pubCfg, r.log, publishWindow)
	if err != nil {
		return nil, fmt.Errorf("build publisher for connection %s: %w", conn.ID, err)
	}

	entry := &Entry{Connection: conn, Publisher: pipeline}

	if len(conn.Sources) == 0 {
		return entry, nil
	}

	src, err := sourceadapter.New(conn.Type)
	if err != nil {
		// No registered adapter for this connection type: targets-only
		// connections (e.g. HTTP_PUSH) never reach here since they carry no
		// sources, so this only fires for a genuinely unsupported type.
		return nil, fmt.Errorf("connection %s: %w", conn.ID, err)
	}
	entry.Source = src

	effectiveLimit := throttle.EffectiveLimit(consCfg.ThrottleLimit, consCfg.ThrottleInterval, consCfg.ThrottleTolerance)
	alert := r.throttle.AlertFor(conn.ID+":consume", time.Now(), effectiveLimit)

	stream := consumer.New(consCfg, passthroughTransform, nil, commitFunc(src))
	entry.Stream = stream

	runCtx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel

	go stream.Run(runCtx)
	go r.runSource(runCtx, conn, src, stream, alert)

	return entry, nil
}

// passthroughTransform is the default transform used when a connection's
// mapping rules are not yet wired to a real payload mapper: it accepts
// every record unchanged.
func passthroughTransform(rec sourceadapter.Record) consumer.TransformResult {
	return consumer.TransformResult{Success: true}
}

// commitFunc adapts a source adapter's CommitOffset to consumer.CommitFunc,
// so the stream's per-partition commits actually reach the broker instead
// of only advancing the stream's own in-memory bookkeeping.
func commitFunc(src sourceadapter.Consumer) consumer.CommitFunc {
	return func(ctx context.Context, partition int32, offset int64) error {
		return src.CommitOffset(ctx, partition, offset)
	}
}

// runSource connects the source adapter and bridges its Consume loop into
// the stream's backpressure buffer: each handler invocation blocks (rather
// than failing the whole Consume loop) while the stream's buffer is full or
// the connection's throttling alert reports ABOVE_LIMIT, which is exactly
// how §4.6's "stops pulling from the source" and §4.7's "alert state used
// to pause consumption" are meant to compose.
func (r *Registry) runSource(ctx context.Context, conn *model.Connection, src sourceadapter.Consumer, stream *consumer.Stream, alert *throttle.Alert) {
	source := conn.Sources[0]
	if err := src.Connect(ctx, source, conn.SpecificConfig); err != nil {
		if r.log != nil {
			r.log.Errorf("connect source adapter for connection %s: %v", conn.ID, err)
		}
		return
	}

	handler := func(ctx context.Context, rec sourceadapter.Record) error {
		for {
			if alert != nil && alert.Evaluate(time.Now()) == throttle.AboveLimit {
				select {
				case <-time.After(consumePollBackoff):
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if stream.Offer(rec) {
				return nil
			}
			select {
			case <-time.After(consumePollBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := src.Consume(ctx, handler); err != nil && ctx.Err() == nil && r.log != nil {
		r.log.Errorf("consume source adapter for connection %s: %v", conn.ID, err)
	}
}

// Get returns the Entry for a connection ID, or ok=false if none is open.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Throttle returns the sliding-window registry shared across all
// connections, keyed by connection ID, for per-connection throttling
// alerts.
func (r *Registry) Throttle() *throttle.Registry {
	return r.throttle
}

// Close drains and removes a connection's entry.
func (r *Registry) Close(ctx context.Context, id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("connection %s is not open", id)
	}
	r.closeEntry(ctx, entry)
	return nil
}

func (r *Registry) closeEntry(ctx context.Context, entry *Entry) {
	if entry.cancel != nil {
		entry.cancel()
	}
	if entry.Publisher != nil {
		entry.Publisher.Drain(ctx)
	}
	if entry.Stream != nil {
		entry.Stream.Drain(ctx)
	}
	if entry.Source != nil {
		if err := entry.Source.Close(); err != nil && r.log != nil {
			r.log.Warnf("closing source adapter for connection %s: %v", entry.Connection.ID, err)
		}
	}
}

// CloseAll drains and removes every open connection, used on service
// shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		entries = append(entries, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			r.closeEntry(ctx, e)
		}(e)
	}
	wg.Wait()
}

// IDs returns the IDs of all currently open connections.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
