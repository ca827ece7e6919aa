package cache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"handyhub_push/internal/metrics"
	"handyhub_push/internal/model"
)

// IntentSink receives read-state intents registered by the cache.
// The ReadStateReconciler is the production sink.
type IntentSink interface {
	Submit(intent model.ReconciliationIntent)
}

// NotificationCache is the single owned store of notification records on
// the device. All mutation goes through its methods; readers get copies.
type NotificationCache struct {
	mu      sync.RWMutex
	records map[int64]*model.NotificationRecord
	sink    IntentSink // Can be nil until the reconciler is wired
	logger  *zap.Logger
}

// NewNotificationCache creates an empty cache.
func NewNotificationCache(logger *zap.Logger) *NotificationCache {
	return &NotificationCache{
		records: make(map[int64]*model.NotificationRecord),
		logger:  logger.Named("notification_cache"),
	}
}

// SetIntentSink sets the sink that receives intents from MarkRead and MarkAllRead.
func (c *NotificationCache) SetIntentSink(sink IntentSink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = sink
}

// Ingest inserts record if its ID is unseen and reports whether it was new.
//
// For a known ID the incoming Read flag is ignored; read state belongs to
// the reconciler. Title, body and payload are refreshed only when the
// incoming CreatedAt is set and strictly newer than the cached one.
func (c *NotificationCache) Ingest(record model.NotificationRecord) (bool, error) {
	return c.ingest(record, time.Time{})
}

// IngestReceived is Ingest for pushed records. receivedAt stands in for a
// missing CreatedAt, but only when the ID is inserted; a redelivery without
// its own timestamp never changes the cached record.
func (c *NotificationCache) IngestReceived(record model.NotificationRecord, receivedAt time.Time) (bool, error) {
	return c.ingest(record, receivedAt)
}

func (c *NotificationCache) ingest(record model.NotificationRecord, receivedAt time.Time) (bool, error) {
	if record.ID <= 0 {
		return false, fmt.Errorf("%w: invalid id %d", model.ErrMalformedPayload, record.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.records[record.ID]
	if !ok {
		cp := record.Clone()
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = receivedAt
		}
		c.records[record.ID] = &cp
		metrics.IngestedTotal.WithLabelValues("new").Inc()
		c.logger.Debug("Ingested notification",
			zap.Int64("notification_id", record.ID),
			zap.String("type", string(record.Type)),
		)
		return true, nil
	}

	metrics.IngestedTotal.WithLabelValues("duplicate").Inc()
	if !record.CreatedAt.IsZero() && record.CreatedAt.After(existing.CreatedAt) {
		fresh := record.Clone()
		existing.Title = fresh.Title
		existing.Body = fresh.Body
		existing.Payload = fresh.Payload
		existing.CreatedAt = fresh.CreatedAt
		c.logger.Debug("Refreshed notification content", zap.Int64("notification_id", record.ID))
	}
	return false, nil
}

// MarkRead optimistically flips id to read and registers an intent.
// It never touches the network. The record must have been ingested first.
func (c *NotificationCache) MarkRead(id int64) error {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("mark read %d: %w", id, model.ErrRecordNotFound)
	}
	var affected []int64
	if !rec.Read {
		rec.Read = true
		affected = []int64{id}
	}
	sink := c.sink
	c.mu.Unlock()

	c.submit(sink, model.NewMarkReadIntent(id, affected))
	return nil
}

// MarkAllRead optimistically flips every record and registers a single
// bulk intent. Returns the number of records that changed.
func (c *NotificationCache) MarkAllRead() int {
	c.mu.Lock()
	var affected []int64
	for id, rec := range c.records {
		if !rec.Read {
			rec.Read = true
			affected = append(affected, id)
		}
	}
	sink := c.sink
	c.mu.Unlock()

	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })
	c.submit(sink, model.NewMarkAllReadIntent(affected))
	return len(affected)
}

func (c *NotificationCache) submit(sink IntentSink, intent model.ReconciliationIntent) {
	if sink == nil {
		c.logger.Warn("No intent sink wired, read state will not reach the server",
			zap.String("intent_key", intent.Key()))
		return
	}
	sink.Submit(intent)
}

// RevertRead flips the given records back to unread. Only the reconciler
// calls this, after abandoning an intent on transient failures.
func (c *NotificationCache) RevertRead(ids []int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	reverted := 0
	for _, id := range ids {
		if rec, ok := c.records[id]; ok && rec.Read {
			rec.Read = false
			reverted++
		}
	}
	return reverted
}

// AdoptServerRead marks id read because the server reports it read.
// Only the reconciler calls this, for records with no pending intent.
func (c *NotificationCache) AdoptServerRead(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok || rec.Read {
		return false
	}
	rec.Read = true
	return true
}

// EnsureRead flips id to read without registering an intent. The
// reconciler calls it when accepting an intent for id.
func (c *NotificationCache) EnsureRead(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok || rec.Read {
		return false
	}
	rec.Read = true
	return true
}

// EnsureAllRead flips every unread record without registering an intent
// and returns the flipped ids in ascending order.
func (c *NotificationCache) EnsureAllRead() []int64 {
	c.mu.Lock()
	var flipped []int64
	for id, rec := range c.records {
		if !rec.Read {
			rec.Read = true
			flipped = append(flipped, id)
		}
	}
	c.mu.Unlock()

	sort.Slice(flipped, func(i, j int) bool { return flipped[i] < flipped[j] })
	return flipped
}

// Get returns a copy of the record with the given id.
func (c *NotificationCache) Get(id int64) (model.NotificationRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return model.NotificationRecord{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a copy of all records, newest first (ties by id, descending).
func (c *NotificationCache) Snapshot() []model.NotificationRecord {
	c.mu.RLock()
	out := make([]model.NotificationRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.Clone())
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// UnreadCount returns the number of unread records (badge count).
func (c *NotificationCache) UnreadCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, rec := range c.records {
		if !rec.Read {
			n++
		}
	}
	return n
}

// Len returns the number of cached records.
func (c *NotificationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// GroupByDay groups the snapshot by the calendar day of each record's own
// CreatedAt in loc. Groups and records inside them are newest first.
func (c *NotificationCache) GroupByDay(loc *time.Location) []model.DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []model.DayGroup
	for _, rec := range c.Snapshot() {
		t := rec.CreatedAt.In(loc)
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if n := len(groups); n > 0 && groups[n-1].Day.Equal(day) {
			groups[n-1].Records = append(groups[n-1].Records, rec)
			continue
		}
		groups = append(groups, model.DayGroup{Day: day, Records: []model.NotificationRecord{rec}})
	}
	return groups
}
