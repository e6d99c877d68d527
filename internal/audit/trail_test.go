package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"aicomplyr.io/identity/internal/identity"
)

type memorySink struct {
	mu      sync.Mutex
	entries []identity.AuditEntry
	err     error
	delay   time.Duration
}

func (s *memorySink) Append(_ context.Context, entry *identity.AuditEntry) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *memorySink) ListByUser(_ context.Context, userID string, limit int) ([]identity.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []identity.AuditEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memorySink) ListByContext(_ context.Context, contextID string, limit int) ([]identity.AuditEntry, error) {
	return nil, nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestRecordPersistsThroughWorker(t *testing.T) {
	sink := &memorySink{}
	trail := New(sink, 8)

	for i := 0; i < 5; i++ {
		trail.Record(identity.AuditEntry{UserID: "u1", Action: identity.AuditScreenAccess})
	}
	trail.Close()

	if got := sink.count(); got != 5 {
		t.Fatalf("expected 5 persisted entries, got %d", got)
	}
}

func TestRecordSetsTimestamp(t *testing.T) {
	sink := &memorySink{}
	trail := New(sink, 8)

	trail.Record(identity.AuditEntry{UserID: "u1", Action: identity.AuditContextSwitchSuccess})
	trail.Close()

	entries, _ := sink.ListByUser(context.Background(), "u1", 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].OccurredAt.IsZero() {
		t.Fatalf("timestamp not set")
	}
}

func TestRecordNeverBlocksOnFullBuffer(t *testing.T) {
	sink := &memorySink{delay: 50 * time.Millisecond}
	trail := New(sink, 1)
	defer trail.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			trail.Record(identity.AuditEntry{UserID: "u1", Action: identity.AuditScreenAccess})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Record blocked on full buffer")
	}
}

func TestRecordSurvivesSinkFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("sink down")}
	trail := New(sink, 8)

	// Failures are dropped, not surfaced; Record must stay callable.
	for i := 0; i < 5; i++ {
		trail.Record(identity.AuditEntry{UserID: "u1", Action: identity.AuditScreenAccess})
	}
	trail.Close()

	if got := sink.count(); got != 0 {
		t.Fatalf("expected no persisted entries, got %d", got)
	}
}

func TestRecordAfterCloseDropsQuietly(t *testing.T) {
	sink := &memorySink{}
	trail := New(sink, 8)
	trail.Close()

	trail.Record(identity.AuditEntry{UserID: "u1", Action: identity.AuditScreenAccess})
	if got := sink.count(); got != 0 {
		t.Fatalf("expected entry dropped after close, got %d", got)
	}
}
