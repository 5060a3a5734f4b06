// Package tracker follows asynchronous MPC computations from submission to
// result. Results are read from the darkpool program's log stream and routed
// to the pending computation they belong to.
package tracker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
)

const (
	DefaultStaleAfter    = 5 * time.Minute
	DefaultSweepInterval = 30 * time.Second

	recentResults  = 1024
	maxResubscribe = 30 * time.Second
)

var (
	// ErrAbandoned is returned by Await when the computation was swept.
	ErrAbandoned = errors.New("computation abandoned")
	// ErrUnknownRequest is returned by Await for ids that are not tracked.
	ErrUnknownRequest = errors.New("unknown computation request")
)

// Options configure a Tracker.
type Options struct {
	// Program is the program whose logs carry results.
	Program        address.Pubkey
	StaleAfter     time.Duration
	SweepInterval  time.Duration
	CompareTimeout time.Duration
	FillTimeout    time.Duration
	Logger         *zap.Logger
	Metrics        metrics.Recorder
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Tracker correlates computation results with pending computations.
type Tracker struct {
	stream ledger.LogStreamer
	opts   Options
	logger *zap.Logger
	rec    metrics.Recorder

	mu        sync.Mutex
	pending   map[string]*PendingComputation
	recent    *lru.Cache[string, PendingComputation]
	seq       uint64
	results   map[Kind]map[SubscriptionHandle]func(ComputationResult)
	abandoned map[SubscriptionHandle]func(PendingComputation)
	waiters   map[string][]chan PendingComputation

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a tracker reading results from stream.
func New(stream ledger.LogStreamer, opts Options) *Tracker {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	recent, _ := lru.New[string, PendingComputation](recentResults)
	return &Tracker{
		stream:    stream,
		opts:      opts,
		logger:    logging.OrNop(opts.Logger).Named("tracker"),
		rec:       metrics.OrNop(opts.Metrics),
		pending:   make(map[string]*PendingComputation),
		recent:    recent,
		results:   make(map[Kind]map[SubscriptionHandle]func(ComputationResult)),
		abandoned: make(map[SubscriptionHandle]func(PendingComputation)),
		waiters:   make(map[string][]chan PendingComputation),
	}
}

// Track registers a submitted computation. Tracking an id that is already
// pending returns the existing entry.
func (t *Tracker) Track(requestID []byte, kind Kind, refs OrderRefs) *PendingComputation {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := requestKey(requestID)
	if existing, ok := t.pending[key]; ok {
		c := existing.clone()
		return &c
	}
	t.seq++
	p := &PendingComputation{
		RequestID: append([]byte(nil), requestID...),
		Kind:      kind,
		Refs:      refs,
		CreatedAt: t.opts.Now(),
		Status:    StatusPending,
		seq:       t.seq,
	}
	t.pending[key] = p
	t.reportPendingLocked(kind)

	t.logger.Debug("tracking computation", zap.String("request_id", key), zap.Stringer("kind", kind))
	c := p.clone()
	return &c
}

// OnResult calls fn for every resolved computation of kind.
func (t *Tracker) OnResult(kind Kind, fn func(ComputationResult)) SubscriptionHandle {
	h := SubscriptionHandle(uuid.New())
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.results[kind] == nil {
		t.results[kind] = make(map[SubscriptionHandle]func(ComputationResult))
	}
	t.results[kind][h] = fn
	return h
}

// OnAbandoned calls fn for every computation removed by the sweep.
func (t *Tracker) OnAbandoned(fn func(PendingComputation)) SubscriptionHandle {
	h := SubscriptionHandle(uuid.New())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abandoned[h] = fn
	return h
}

// Unsubscribe removes a listener. Unknown handles are ignored.
func (t *Tracker) Unsubscribe(h SubscriptionHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, subs := range t.results {
		delete(subs, h)
	}
	delete(t.abandoned, h)
}

// Start subscribes to the log stream and starts the sweep. Calling Start on
// a running tracker does nothing.
func (t *Tracker) Start(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel != nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// The subscription outlives ctx; it ends with Stop.
	runCtx, cancel := context.WithCancel(context.Background())
	sub, err := t.stream.SubscribeLogs(runCtx, t.opts.Program)
	if err != nil {
		cancel()
		return err
	}
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(runCtx, sub, t.done)

	t.logger.Info("tracker started", zap.Stringer("program", t.opts.Program))
	return nil
}

// Stop ends the subscription and the sweep. It is safe to call more than
// once.
func (t *Tracker) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	t.logger.Info("tracker stopped")
}

// Running reports whether the tracker is started.
func (t *Tracker) Running() bool {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.cancel != nil
}

func (t *Tracker) run(ctx context.Context, sub ledger.LogSubscription, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(t.opts.SweepInterval)
	defer ticker.Stop()

	notes := sub.Notifications()
	var retry <-chan time.Time
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			if sub != nil {
				_ = sub.Close()
			}
			return

		case n, ok := <-notes:
			if !ok {
				t.logger.Warn("log subscription ended, resubscribing", zap.Error(sub.Err()), zap.Duration("in", backoff))
				_ = sub.Close()
				sub, notes = nil, nil
				retry = time.After(backoff)
				continue
			}
			t.HandleNotification(n)

		case <-retry:
			retry = nil
			s, err := t.stream.SubscribeLogs(ctx, t.opts.Program)
			if err != nil {
				backoff *= 2
				if backoff > maxResubscribe {
					backoff = maxResubscribe
				}
				t.logger.Warn("resubscribe failed", zap.Error(err), zap.Duration("retry_in", backoff))
				retry = time.After(backoff)
				continue
			}
			sub, notes = s, s.Notifications()
			backoff = time.Second

		case <-ticker.C:
			t.Sweep()
		}
	}
}

// HandleNotification applies every result carried by a log notification.
// Notifications of failed transactions are ignored. When a transaction
// reports a kind through an exact event, its readable lines for that kind
// restate the same result and are skipped.
func (t *Tracker) HandleNotification(n ledger.LogNotification) {
	if n.Failed() {
		return
	}
	var events []event
	exact := make(map[Kind]bool)
	for _, line := range n.Logs {
		ev, ok := parseLine(line)
		if !ok {
			continue
		}
		if ev.requestID != nil {
			exact[ev.result.Kind] = true
		}
		events = append(events, ev)
	}
	for _, ev := range events {
		if ev.requestID == nil && exact[ev.result.Kind] {
			continue
		}
		ev.result.Signature = n.Signature
		ev.result.Slot = n.Slot
		t.resolve(ev)
	}
}

func (t *Tracker) resolve(ev event) {
	t.mu.Lock()
	var p *PendingComputation
	if ev.requestID != nil {
		p = t.pending[requestKey(ev.requestID)]
	} else {
		p = t.oldestLocked(ev.result.Kind)
	}
	if p == nil || p.Kind != ev.result.Kind {
		t.mu.Unlock()
		t.logger.Debug("result matches no pending computation",
			zap.Stringer("kind", ev.result.Kind), zap.String("signature", ev.result.Signature))
		return
	}

	res := ev.result
	res.RequestID = append([]byte(nil), p.RequestID...)
	res.Refs = p.Refs
	p.Status = res.Status
	p.Result = &res

	key := p.key()
	delete(t.pending, key)
	snapshot := p.clone()
	t.recent.Add(key, snapshot)
	t.reportPendingLocked(p.Kind)

	listeners := make([]func(ComputationResult), 0, len(t.results[p.Kind]))
	for _, fn := range t.results[p.Kind] {
		listeners = append(listeners, fn)
	}
	waiters := t.waiters[key]
	delete(t.waiters, key)
	t.mu.Unlock()

	t.rec.ComputationResolved(p.Kind.String(), res.Status.String())
	t.logger.Info("computation resolved",
		zap.String("request_id", key),
		zap.Stringer("kind", p.Kind),
		zap.Stringer("status", res.Status),
		zap.Duration("latency", t.opts.Now().Sub(p.CreatedAt)))

	for _, fn := range listeners {
		fn(res)
	}
	for _, w := range waiters {
		w <- snapshot
	}
}

// oldestLocked returns the earliest tracked pending computation of kind.
func (t *Tracker) oldestLocked(kind Kind) *PendingComputation {
	var oldest *PendingComputation
	for _, p := range t.pending {
		if p.Kind != kind {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	return oldest
}

// Sweep abandons pending computations older than the stale threshold.
func (t *Tracker) Sweep() int {
	now := t.opts.Now()

	t.mu.Lock()
	var swept []PendingComputation
	kinds := make(map[Kind]bool)
	for key, p := range t.pending {
		if now.Sub(p.CreatedAt) <= t.opts.StaleAfter {
			continue
		}
		p.Status = StatusAbandoned
		delete(t.pending, key)
		snapshot := p.clone()
		t.recent.Add(key, snapshot)
		swept = append(swept, snapshot)
		kinds[p.Kind] = true
	}
	for kind := range kinds {
		t.reportPendingLocked(kind)
	}
	listeners := make([]func(PendingComputation), 0, len(t.abandoned))
	for _, fn := range t.abandoned {
		listeners = append(listeners, fn)
	}
	waiters := make(map[string][]chan PendingComputation)
	for _, p := range swept {
		key := p.key()
		if w := t.waiters[key]; w != nil {
			waiters[key] = w
			delete(t.waiters, key)
		}
	}
	t.mu.Unlock()

	sort.Slice(swept, func(i, j int) bool { return swept[i].seq < swept[j].seq })
	for _, p := range swept {
		t.rec.ComputationAbandoned(p.Kind.String())
		t.logger.Warn("computation abandoned",
			zap.String("request_id", p.key()),
			zap.Stringer("kind", p.Kind),
			zap.Duration("age", now.Sub(p.CreatedAt)))
		for _, fn := range listeners {
			fn(p)
		}
		for _, w := range waiters[p.key()] {
			w <- p
		}
	}
	return len(swept)
}

// Await blocks until the computation resolves or is abandoned, or ctx ends.
func (t *Tracker) Await(ctx context.Context, requestID []byte) (ComputationResult, error) {
	key := requestKey(requestID)

	t.mu.Lock()
	if done, ok := t.recent.Get(key); ok {
		t.mu.Unlock()
		return outcome(done)
	}
	if _, ok := t.pending[key]; !ok {
		t.mu.Unlock()
		return ComputationResult{}, ErrUnknownRequest
	}
	ch := make(chan PendingComputation, 1)
	t.waiters[key] = append(t.waiters[key], ch)
	t.mu.Unlock()

	select {
	case p := <-ch:
		return outcome(p)
	case <-ctx.Done():
		t.mu.Lock()
		ws := t.waiters[key]
		for i, w := range ws {
			if w == ch {
				t.waiters[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
		return ComputationResult{}, ctx.Err()
	}
}

func outcome(p PendingComputation) (ComputationResult, error) {
	if p.Status == StatusAbandoned || p.Result == nil {
		return ComputationResult{RequestID: p.RequestID, Kind: p.Kind, Status: StatusAbandoned, Refs: p.Refs}, ErrAbandoned
	}
	return *p.Result, nil
}

// EstimateTimeout returns how long a computation of kind is expected to
// take, never more than the stale threshold.
func (t *Tracker) EstimateTimeout(kind Kind) time.Duration {
	var d time.Duration
	switch kind {
	case KindCompare:
		d = t.opts.CompareTimeout
	case KindFill:
		d = t.opts.FillTimeout
	}
	if d <= 0 || d > t.opts.StaleAfter {
		return t.opts.StaleAfter
	}
	return d
}

// Pending returns the pending computations of kind, oldest first.
func (t *Tracker) Pending(kind Kind) []PendingComputation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []PendingComputation
	for _, p := range t.pending {
		if p.Kind == kind {
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get returns a tracked computation, pending or recently finished.
func (t *Tracker) Get(requestID []byte) (PendingComputation, bool) {
	key := requestKey(requestID)
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[key]; ok {
		return p.clone(), true
	}
	return t.recent.Get(key)
}

func (t *Tracker) reportPendingLocked(kind Kind) {
	n := 0
	for _, p := range t.pending {
		if p.Kind == kind {
			n++
		}
	}
	t.rec.ComputationsPending(kind.String(), n)
}
