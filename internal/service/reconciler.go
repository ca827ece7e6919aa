package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"handyhub_push/internal/metrics"
	"handyhub_push/internal/model"
)

// ReadMarker is the backend side of read-state reconciliation.
type ReadMarker interface {
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
}

// ReadStateCache is the part of the notification cache the reconciler
// writes back to. *cache.NotificationCache implements it.
type ReadStateCache interface {
	RevertRead(ids []int64) int
	AdoptServerRead(id int64) bool
	EnsureRead(id int64) bool
	EnsureAllRead() []int64
}

// Failure is a non-fatal reconciliation failure surfaced to the UI so it
// can offer a retry.
type Failure struct {
	Intent   model.ReconciliationIntent
	Reverted []int64
	Err      error
}

func (f Failure) Error() string {
	return "reconcile " + f.Intent.Key() + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error { return f.Err }

type inflightIntent struct {
	intent model.ReconciliationIntent
	seq    uint64
	cancel context.CancelFunc
}

// ReadStateReconciler pushes optimistic read mutations to the backend.
//
// At most one intent per key is in flight. A newer intent for the same key
// cancels the older one and inherits its affected records; an ALL intent
// cancels and absorbs every per-record intent.
type ReadStateReconciler struct {
	api    ReadMarker
	cache  ReadStateCache
	policy RetryPolicy
	logger *zap.Logger

	mu        sync.Mutex
	seq       uint64
	inflight  map[string]*inflightIntent
	onFailure func(Failure)
	failures  chan Failure
	wg        sync.WaitGroup
}

func NewReadStateReconciler(api ReadMarker, cache ReadStateCache, policy RetryPolicy, logger *zap.Logger) *ReadStateReconciler {
	return &ReadStateReconciler{
		api:      api,
		cache:    cache,
		policy:   policy.normalized(),
		logger:   logger.Named("read_reconciler"),
		inflight: make(map[string]*inflightIntent),
		failures: make(chan Failure, 16),
	}
}

// OnFailure sets a callback invoked once per abandoned intent.
func (r *ReadStateReconciler) OnFailure(fn func(Failure)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// Failures returns a buffered channel of abandoned intents. When the buffer
// is full new failures are dropped from the channel (the callback still runs).
func (r *ReadStateReconciler) Failures() <-chan Failure {
	return r.failures
}

// Submit registers a pending intent and starts reconciling it in the
// background. It never blocks on the network.
func (r *ReadStateReconciler) Submit(intent model.ReconciliationIntent) {
	intent.State = model.IntentPending
	intent.Attempt = 0
	key := intent.Key()

	r.mu.Lock()
	if intent.All {
		for k, prev := range r.inflight {
			r.supersedeLocked(k, prev, &intent)
		}
	} else if prev, ok := r.inflight[key]; ok {
		r.supersedeLocked(key, prev, &intent)
	}

	// An older intent may have been abandoned and reverted between the
	// cache flip and this call. Flip again so the intent and cache agree.
	if intent.All {
		intent.Affected = mergeIDs(intent.Affected, r.cache.EnsureAllRead())
	} else if r.cache.EnsureRead(intent.RecordID) {
		intent.Affected = mergeIDs(intent.Affected, []int64{intent.RecordID})
	}

	r.seq++
	ctx, cancel := context.WithCancel(context.Background())
	entry := &inflightIntent{intent: intent, seq: r.seq, cancel: cancel}
	r.inflight[key] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("Read intent pending",
		zap.String("intent_key", key),
		zap.String("intent_id", intent.ID.String()),
		zap.Int64s("affected", intent.Affected),
	)
	go r.run(ctx, entry)
}

// supersedeLocked cancels prev and moves its affected records onto next.
func (r *ReadStateReconciler) supersedeLocked(key string, prev *inflightIntent, next *model.ReconciliationIntent) {
	prev.cancel()
	delete(r.inflight, key)
	next.Affected = mergeIDs(next.Affected, prev.intent.Affected)
	metrics.IntentsTotal.WithLabelValues(scopeOf(prev.intent), string(model.IntentCancelled)).Inc()
	r.logger.Debug("Read intent superseded",
		zap.String("intent_key", key),
		zap.String("intent_id", prev.intent.ID.String()),
		zap.String("by", next.ID.String()),
	)
}

func (r *ReadStateReconciler) run(ctx context.Context, entry *inflightIntent) {
	defer r.wg.Done()
	defer entry.cancel()

	key := entry.intent.Key()
	op := func() error {
		r.mu.Lock()
		entry.intent.Attempt++
		intent := entry.intent
		r.mu.Unlock()

		var err error
		if intent.All {
			err = r.api.MarkAllRead(ctx)
		} else {
			err = r.api.MarkRead(ctx, intent.RecordID)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !model.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.mu.Lock()
		attempt := entry.intent.Attempt
		r.mu.Unlock()

		metrics.IntentsTotal.WithLabelValues(scopeOf(entry.intent), string(model.IntentFailed)).Inc()
		r.logger.Warn("Read intent failed, retrying",
			zap.String("intent_key", key),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(op, r.policy.backOff(ctx, r.policy.MaxAttempts), notify)
	r.finish(entry, err)
}

func (r *ReadStateReconciler) finish(entry *inflightIntent, err error) {
	key := entry.intent.Key()

	r.mu.Lock()
	if r.inflight[key] != entry {
		// Superseded while running; the newer intent owns the outcome.
		r.mu.Unlock()
		return
	}
	delete(r.inflight, key)
	intent := entry.intent

	if err == nil {
		intent.State = model.IntentConfirmed
		r.mu.Unlock()
		metrics.IntentsTotal.WithLabelValues(scopeOf(intent), string(intent.State)).Inc()
		r.logger.Info("Read intent confirmed",
			zap.String("intent_key", key),
			zap.Int("attempt", intent.Attempt),
		)
		return
	}

	intent.State = model.IntentAbandoned
	var reverted []int64
	if model.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		ids := r.unclaimedLocked(entry)
		if len(ids) > 0 {
			r.cache.RevertRead(ids)
			reverted = ids
		}
	}
	onFailure := r.onFailure
	r.mu.Unlock()

	metrics.IntentsTotal.WithLabelValues(scopeOf(intent), string(intent.State)).Inc()
	r.logger.Warn("Read intent abandoned",
		zap.String("intent_key", key),
		zap.Int("attempt", intent.Attempt),
		zap.Int64s("reverted", reverted),
		zap.Error(err),
	)

	f := Failure{Intent: intent, Reverted: reverted, Err: err}
	if onFailure != nil {
		onFailure(f)
	}
	select {
	case r.failures <- f:
	default:
		r.logger.Warn("Failure channel full, dropping", zap.String("intent_key", key))
	}
}

// unclaimedLocked returns the affected records of entry that no newer
// pending intent covers. Caller holds r.mu.
func (r *ReadStateReconciler) unclaimedLocked(entry *inflightIntent) []int64 {
	var out []int64
	for _, id := range entry.intent.Affected {
		claimed := false
		for _, other := range r.inflight {
			if other.seq <= entry.seq {
				continue
			}
			if other.intent.All || other.intent.RecordID == id {
				claimed = true
				break
			}
		}
		if !claimed {
			out = append(out, id)
		}
	}
	return out
}

// ObserveServerState adopts the server's read flag for records with no
// pending intent. Returns how many records changed locally.
func (r *ReadStateReconciler) ObserveServerState(records []model.NotificationRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.inflight[model.IntentKeyAll]; ok {
		return 0
	}
	adopted := 0
	for _, rec := range records {
		if !rec.Read {
			continue
		}
		probe := model.ReconciliationIntent{RecordID: rec.ID}
		if _, ok := r.inflight[probe.Key()]; ok {
			continue
		}
		if r.cache.AdoptServerRead(rec.ID) {
			adopted++
		}
	}
	if adopted > 0 {
		r.logger.Debug("Adopted server read state", zap.Int("count", adopted))
	}
	return adopted
}

// Pending returns copies of the intents currently in flight.
func (r *ReadStateReconciler) Pending() []model.ReconciliationIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.ReconciliationIntent, 0, len(r.inflight))
	for _, e := range r.inflight {
		intent := e.intent
		intent.Affected = append([]int64(nil), e.intent.Affected...)
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Wait blocks until every submitted intent has settled.
func (r *ReadStateReconciler) Wait() {
	r.wg.Wait()
}

func scopeOf(intent model.ReconciliationIntent) string {
	if intent.All {
		return "all"
	}
	return "one"
}

func mergeIDs(a, b []int64) []int64 {
	if len(b) == 0 {
		return a
	}
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
