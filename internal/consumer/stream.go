// Package consumer implements the At-Least-Once Consumer Stream from
// SPEC_FULL.md §4.6: bounded in-flight records with backpressure, a pure
// transform stage, a mapping-sink handoff, and strictly monotonic
// per-partition offset commits. Its bounded-parallelism dispatch reuses
// internal/workerpool, generalized from the same fan-out pattern the
// teacher's Event Hubs adapter used per-partition (a WaitGroup plus an
// error channel draining concurrent partition consumers).
package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/redbco/redb-connect/internal/ditterr"
	"github.com/redbco/redb-connect/internal/sourceadapter"
	"github.com/redbco/redb-connect/internal/workerpool"
)

// BufferSlack is the implementation-defined small slack SPEC_FULL.md §8
// names explicitly (K=2): the backpressure buffer holds MaxInFlight+Slack
// records before rejecting new offers.
const BufferSlack = 2

// TransformResult is the outcome of running a pure transform over a Record.
type TransformResult struct {
	Success   bool
	Retryable bool // only meaningful when !Success
	Err       error
}

// TransformFunc maps a raw Record to a TransformResult.
type TransformFunc func(rec sourceadapter.Record) TransformResult

// SinkFunc hands a successfully transformed record to the downstream
// mapping sink as an acknowledgeable message; it returns an error if the
// downstream failed to accept it.
type SinkFunc func(ctx context.Context, rec sourceadapter.Record) error

// CommitFunc commits an offset for a partition.
type CommitFunc func(ctx context.Context, partition int32, offset int64) error

// Config tunes a Stream's bounded parallelism and, via the Throttle* fields,
// the effective limit the registry derives for this connection's
// consumption-side throttling alert (SPEC_FULL.md §4.7); Stream itself does
// not consult these — the registry reads them to build the Alert that
// gates how fast records are pulled from the source adapter.
type Config struct {
	MaxInFlight int

	ThrottleLimit     int
	ThrottleInterval  time.Duration
	ThrottleTolerance float64
}

// Stream is a per-connection at-least-once consumer: source records are
// offered in, transformed, handed to a sink, and their offsets committed
// only after the sink succeeds.
type Stream struct {
	transform TransformFunc
	sink      SinkFunc
	commit    CommitFunc

	buffer chan sourceadapter.Record
	pool   *workerpool.Pool

	partitionMu sync.Mutex
	partitions  map[int32]*sync.Mutex

	committedMu sync.Mutex
	committed   map[int32]int64
}

// New builds a Stream with a backpressure buffer of MaxInFlight+BufferSlack
// and a dispatch pool bounded to MaxInFlight concurrent transforms.
func New(cfg Config, transform TransformFunc, sink SinkFunc, commit CommitFunc) *Stream {
	if cfg.MaxInFlight < 1 {
		cfg.MaxInFlight = 1
	}
	return &Stream{
		transform:  transform,
		sink:       sink,
		commit:     commit,
		buffer:     make(chan sourceadapter.Record, cfg.MaxInFlight+BufferSlack),
		pool:       workerpool.New(cfg.MaxInFlight),
		partitions: make(map[int32]*sync.Mutex),
		committed:  make(map[int32]int64),
	}
}

// Offer enqueues a record for processing. It returns false without
// blocking if the backpressure buffer is full — the source adapter must
// stop pulling and retry later, per SPEC_FULL.md §4.6.
func (s *Stream) Offer(rec sourceadapter.Record) bool {
	select {
	case s.buffer <- rec:
		return true
	default:
		return false
	}
}

// Run drains the backpressure buffer, dispatching each record's transform
// and sink handoff through the bounded pool, until ctx is cancelled. Per
// partition, records are processed strictly in the order they were
// offered (ordering is enforced via a per-partition mutex so the pool's
// concurrency bound never reorders commits within one partition).
func (s *Stream) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.buffer:
			s.dispatch(ctx, rec)
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, rec sourceadapter.Record) {
	mu := s.partitionLock(rec.Partition)
	s.pool.Submit(ctx, func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return s.process(ctx, rec)
	})
}

func (s *Stream) partitionLock(partition int32) *sync.Mutex {
	s.partitionMu.Lock()
	defer s.partitionMu.Unlock()
	mu, ok := s.partitions[partition]
	if !ok {
		mu = &sync.Mutex{}
		s.partitions[partition] = mu
	}
	return mu
}

// process runs transform, then the sink, then commits the offset — only if
// the transform labels a failure as retryable does the offset stay
// uncommitted (to be replayed); non-retryable failures still commit, to
// avoid a poison-pill record stalling the partition forever.
func (s *Stream) process(ctx context.Context, rec sourceadapter.Record) error {
	result := s.transform(rec)
	if !result.Success {
		if result.Retryable {
			return ditterr.TransformFailure("transform failed, will be replayed", result.Err)
		}
		return s.commitOffset(ctx, rec.Partition, rec.Offset)
	}

	if s.sink != nil {
		if err := s.sink(ctx, rec); err != nil {
			return ditterr.TransformFailure("downstream sink rejected record", err)
		}
	}

	return s.commitOffset(ctx, rec.Partition, rec.Offset)
}

// commitOffset enforces strict per-partition monotonicity: an offset lower
// than or equal to the last committed one for that partition is a no-op,
// never a regression.
func (s *Stream) commitOffset(ctx context.Context, partition int32, offset int64) error {
	s.committedMu.Lock()
	last, ok := s.committed[partition]
	if ok && offset <= last {
		s.committedMu.Unlock()
		return nil
	}
	s.committed[partition] = offset
	s.committedMu.Unlock()

	if s.commit == nil {
		return nil
	}
	return s.commit(ctx, partition, offset)
}

// InFlight returns the number of records currently queued or dispatched.
func (s *Stream) InFlight() int {
	return len(s.buffer) + s.pool.InFlight()
}

// LastCommitted returns the highest committed offset for a partition, and
// whether any offset has been committed yet.
func (s *Stream) LastCommitted(partition int32) (int64, bool) {
	s.committedMu.Lock()
	defer s.committedMu.Unlock()
	offset, ok := s.committed[partition]
	return offset, ok
}

// Drain waits for the pool to finish all dispatched work, or until ctx is
// cancelled, per SPEC_FULL.md §5's "stops the consumer after its last
// commit" shutdown rule.
func (s *Stream) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
