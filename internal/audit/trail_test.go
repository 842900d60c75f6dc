package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAuditStorage struct {
	mu      sync.Mutex
	batches [][]Event
}

func (f *fakeAuditStorage) WriteBatch(_ context.Context, events []Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]Event, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeAuditStorage) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestTrail_StopFlushesBuffer(t *testing.T) {
	storage := &fakeAuditStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, time.Hour) // Флашит только Stop

	trail.Start()
	for i := 0; i < 7; i++ {
		trail.Record(Event{ID: "e", Kind: EventStatusTransition, OwnerID: "owner"})
	}
	trail.Stop()

	assert.Equal(t, 7, storage.total())
}

func TestTrail_BatchLimitTriggersFlush(t *testing.T) {
	storage := &fakeAuditStorage{}
	trail := NewTrail(storage, zap.NewNop(), 1000, time.Hour)

	trail.Start()
	for i := 0; i < 150; i++ {
		trail.Record(Event{Kind: EventApprovalDecided})
	}
	trail.Stop()

	require.Equal(t, 150, storage.total())
	// Первая сотня ушла пакетом до остановки
	assert.Equal(t, 100, len(storage.batches[0]))
}

func TestTrail_TimerFlush(t *testing.T) {
	storage := &fakeAuditStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, 20*time.Millisecond)

	trail.Start()
	trail.Record(Event{Kind: EventTaskAssigned})

	assert.Eventually(t, func() bool { return storage.total() == 1 },
		time.Second, 10*time.Millisecond)

	trail.Stop()
}

func TestTrail_RecordAfterStopIsDropped(t *testing.T) {
	storage := &fakeAuditStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, time.Hour)

	trail.Start()
	trail.Stop()

	// Не паникует и не пишется
	trail.Record(Event{Kind: EventStatusBypass})
	assert.Zero(t, storage.total())
}

func TestTrail_AssignsTimestamp(t *testing.T) {
	storage := &fakeAuditStorage{}
	trail := NewTrail(storage, zap.NewNop(), 100, time.Hour)

	trail.Start()
	trail.Record(Event{Kind: EventStatusTransition})
	trail.Stop()

	require.Equal(t, 1, storage.total())
	assert.False(t, storage.batches[0][0].Timestamp.IsZero())
}
