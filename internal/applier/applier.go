// Package applier implements the background patch applier from spec.md
// §4.G: it pops opcodes off the bounded queue, reconstructs a virtual
// working copy from the patch store (never the live source tree), diffs
// and commits a patch, and retries transient failures with backoff before
// giving up to a dead-letter buffer.
package applier

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fluid-notion-systems/ize/internal/clock"
	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/fluid-notion-systems/ize/internal/logger"
	"github.com/fluid-notion-systems/ize/internal/metrics"
	"github.com/fluid-notion-systems/ize/internal/opcode"
	"github.com/fluid-notion-systems/ize/internal/patchstore"
	"github.com/fluid-notion-systems/ize/internal/queue"
	"golang.org/x/sync/errgroup"
)

// ErrDeterministic marks a failure the applier should never retry: the
// opcode implies a precondition about the pristine store (e.g. a path
// that should already exist) that does not hold.
var ErrDeterministic = errors.New("applier: deterministic failure")

// Stats is a point-in-time snapshot of applier counters.
type Stats struct {
	Applied    uint64
	Retried    uint64
	DeadLetter uint64
	Dropped    uint64
}

// Applier is the single-consumer worker described in spec.md §5: exactly
// one goroutine drains the queue.
type Applier struct {
	queue   *queue.Queue
	store   patchstore.Store
	clock   clock.Clock
	cfg     config.ApplierConfig
	channel string

	deadLetter *deadLetterRing
	metrics    *metrics.Registry

	applied         uint64
	retried         uint64
	deadLetterCount uint64
}

// SetMetrics attaches a metrics registry; subsequent applies update its
// applier counters. Optional.
func (a *Applier) SetMetrics(m *metrics.Registry) {
	a.metrics = m
}

// New creates an Applier that applies opcodes popped from q onto channel
// in store, using c for timestamps and backoff delays.
func New(q *queue.Queue, store patchstore.Store, c clock.Clock, cfg config.ApplierConfig, channel string) *Applier {
	return &Applier{
		queue:      q,
		store:      store,
		clock:      c,
		cfg:        cfg,
		channel:    channel,
		deadLetter: newDeadLetterRing(cfg.DeadLetterCapacity),
	}
}

// Stats returns a snapshot of the applier's counters.
func (a *Applier) Stats() Stats {
	return Stats{
		Applied:    atomic.LoadUint64(&a.applied),
		Retried:    atomic.LoadUint64(&a.retried),
		DeadLetter: atomic.LoadUint64(&a.deadLetterCount),
	}
}

// DeadLetters returns the opcodes the applier gave up on, oldest first.
func (a *Applier) DeadLetters() []DeadLetterEntry {
	return a.deadLetter.All()
}

// Run drives the pop/apply/log loop until ctx is canceled, at which point
// it closes the queue, drains whatever remains within
// cfg.DrainDeadlineMS, and returns. Run is meant to be the sole consumer
// of q; spawning more than one concurrently violates spec.md §5's
// single-consumer assumption.
func (a *Applier) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		a.queue.Close()
		return nil
	})

	g.Go(func() error {
		for {
			if ctx.Err() != nil {
				return a.drainRemaining(ctx)
			}
			op, ok := a.queue.Pop()
			if a.metrics != nil {
				a.metrics.QueueDepth.Set(float64(a.queue.Len()))
			}
			if !ok {
				return a.drainRemaining(ctx)
			}
			a.processWithRetry(gctx, op)
		}
	})

	return g.Wait()
}

// drainRemaining flushes any opcodes left in the queue after Close, giving
// each the remainder of cfg.DrainDeadlineMS (spec.md §5 "Cancellation").
func (a *Applier) drainRemaining(parent context.Context) error {
	remaining := a.queue.Drain()
	if a.metrics != nil {
		a.metrics.QueueDepth.Set(0)
	}
	if len(remaining) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.DrainDeadlineMS)*time.Millisecond)
	defer cancel()

	for i, op := range remaining {
		select {
		case <-ctx.Done():
			logger.Warnf("applier: drain deadline exceeded with %d opcodes unapplied", len(remaining)-i)
			return nil
		default:
			a.processWithRetry(ctx, op)
		}
	}
	return nil
}

// processWithRetry applies op, retrying transient failures with
// exponential backoff up to cfg.MaxAttempts before giving up to the
// dead-letter buffer (spec.md §4.G "Failure policy"). A single failed
// opcode never stops the loop.
func (a *Applier) processWithRetry(ctx context.Context, op opcode.Op) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("applier: panic applying seq %d: %v", op.Seq, r)
			a.giveUp(op, 1, fmt.Errorf("applier: panic: %v", r))
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		err := a.apply(ctx, op)
		if err == nil {
			atomic.AddUint64(&a.applied, 1)
			if a.metrics != nil {
				a.metrics.PatchesApplied.Inc()
			}
			return
		}
		lastErr = err

		if errors.Is(err, ErrDeterministic) {
			logger.Warnf("applier: deterministic failure applying seq %d: %v", op.Seq, err)
			a.giveUp(op, attempt, err)
			return
		}

		if attempt == a.cfg.MaxAttempts {
			break
		}

		atomic.AddUint64(&a.retried, 1)
		if a.metrics != nil {
			a.metrics.ApplierRetries.Inc()
		}
		backoff := time.Duration(a.cfg.InitialBackoffMS) * time.Millisecond * time.Duration(uint(1)<<uint(attempt-1))
		select {
		case <-a.clock.After(backoff):
		case <-ctx.Done():
			a.giveUp(op, attempt, ctx.Err())
			return
		}
	}

	logger.Errorf("applier: giving up on seq %d after %d attempts: %v", op.Seq, a.cfg.MaxAttempts, lastErr)
	a.giveUp(op, a.cfg.MaxAttempts, lastErr)
}

func (a *Applier) giveUp(op opcode.Op, attempts int, err error) {
	atomic.AddUint64(&a.deadLetterCount, 1)
	if a.metrics != nil {
		a.metrics.ApplierDeadLetter.Inc()
	}
	a.deadLetter.push(DeadLetterEntry{Op: op, Attempts: attempts, Err: err})
}

// apply runs the seven-step apply procedure from spec.md §4.G for a single
// opcode.
func (a *Applier) apply(ctx context.Context, op opcode.Op) error {
	txn, err := a.store.BeginMutTxn(ctx)
	if err != nil {
		return fmt.Errorf("applier: begin txn: %w", err)
	}

	virtualWC, prefix, noOp, err := a.buildVirtualWC(ctx, txn, op.Operation)
	if err != nil {
		return err
	}
	if noOp {
		return a.store.Commit(ctx, txn)
	}

	actions, err := a.store.Record(ctx, txn, a.channel, virtualWC, prefix)
	if err != nil {
		return fmt.Errorf("applier: record: %w", err)
	}
	if len(actions) == 0 {
		// Idempotent: no diff against pristine, nothing to save or apply.
		return a.store.Commit(ctx, txn)
	}

	hash, err := a.store.SavePatch(ctx, actions, buildHeader(op))
	if err != nil {
		return fmt.Errorf("applier: save patch: %w", err)
	}

	if err := a.store.ApplyLocal(ctx, txn, a.channel, actions, hash); err != nil {
		return fmt.Errorf("applier: apply local: %w", err)
	}

	return a.store.Commit(ctx, txn)
}

// buildHeader builds the patch-store header recorded alongside a saved
// patch.
func buildHeader(op opcode.Op) patchstore.Header {
	return patchstore.Header{
		Description: fmt.Sprintf("%s %s", op.Operation.Tag(), op.Operation.PrimaryPath()),
		TimestampNS: int64(op.TimestampNS),
	}
}
