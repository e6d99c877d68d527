// Package audit writes context audit entries to the store off the request
// path. Recording never blocks and never fails the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/identity"
	"aicomplyr.io/identity/internal/obs"
)

const (
	defaultBuffer  = 256
	writeTimeout   = 5 * time.Second
	drainOnCloseIn = 10 * time.Second
)

var _ identity.AuditRecorder = (*Trail)(nil)

// Trail buffers entries in a channel and persists them from a single worker
// goroutine, keeping the append-only ordering of one producer's entries.
type Trail struct {
	store identity.AuditStore
	ch    chan identity.AuditEntry
	log   *zap.Logger

	wg       sync.WaitGroup
	closed   chan struct{}
	closeOne sync.Once
}

func New(store identity.AuditStore, buffer int) *Trail {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	t := &Trail{
		store:  store,
		ch:     make(chan identity.AuditEntry, buffer),
		log:    obs.Logger().Named("audit"),
		closed: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Record enqueues the entry. A full buffer drops the entry with a metric
// and a log line instead of blocking the caller.
func (t *Trail) Record(entry identity.AuditEntry) {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	select {
	case <-t.closed:
		t.drop(entry, "trail closed")
	default:
		select {
		case t.ch <- entry:
		default:
			t.drop(entry, "buffer full")
		}
	}
}

func (t *Trail) drop(entry identity.AuditEntry, reason string) {
	obs.ObserveAuditDrop()
	t.log.Warn("audit entry dropped",
		zap.String("reason", reason),
		zap.String("action", entry.Action),
		zap.String("user_id", entry.UserID),
	)
}

func (t *Trail) run() {
	defer t.wg.Done()
	for {
		select {
		case entry := <-t.ch:
			t.write(entry)
		case <-t.closed:
			// Drain whatever is still buffered, then stop.
			for {
				select {
				case entry := <-t.ch:
					t.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (t *Trail) write(entry identity.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.store.Append(ctx, &entry); err != nil {
		obs.ObserveAuditDrop()
		t.log.Warn("audit append failed",
			zap.String("action", entry.Action),
			zap.String("user_id", entry.UserID),
			zap.Error(err),
		)
	}
}

// Close stops accepting entries and drains the buffer, waiting up to a bound
// for in-flight writes.
func (t *Trail) Close() {
	t.closeOne.Do(func() { close(t.closed) })

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainOnCloseIn):
		t.log.Warn("audit drain timed out, remaining entries lost")
	}
}
