package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/agent-control-plane/internal/domain"
	"go.uber.org/zap"
)

type fakeNotificationStore struct {
	created   []*domain.Notification
	createErr error

	resolvedRefs []string
	escalations  map[string]int // "refID:level" -> count
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{escalations: make(map[string]int)}
}

func (f *fakeNotificationStore) CreateNotification(_ context.Context, n *domain.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationStore) GetNotification(_ context.Context, _, id string) (*domain.Notification, error) {
	for _, n := range f.created {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationStore) ListNotifications(_ context.Context, _ string, _ domain.NotificationFilter) ([]domain.Notification, error) {
	out := make([]domain.Notification, 0, len(f.created))
	for _, n := range f.created {
		out = append(out, *n)
	}
	return out, nil
}

func (f *fakeNotificationStore) ResolveNotification(_ context.Context, _, id string, _ *string, _ time.Time) error {
	for _, n := range f.created {
		if n.ID == id {
			n.Resolved = true
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeNotificationStore) ResolveNotificationsByRef(_ context.Context, _, refID string, _ *string, _ time.Time) error {
	f.resolvedRefs = append(f.resolvedRefs, refID)
	return nil
}

func (f *fakeNotificationStore) CountEscalationNotifications(_ context.Context, _, refID string, level int) (int, error) {
	return f.escalations[fmt.Sprintf("%s:%d", refID, level)], nil
}

type capturingBroadcast struct {
	events []domain.BroadcastEvent
}

func (c *capturingBroadcast) Publish(event domain.BroadcastEvent) {
	c.events = append(c.events, event)
}

func TestCreate_AssignsIDAndBroadcasts(t *testing.T) {
	store := newFakeNotificationStore()
	pub := &capturingBroadcast{}
	s := New(store, pub, zap.NewNop())

	n := &domain.Notification{
		OwnerID: "owner",
		AgentID: "a1",
		Type:    domain.NotifyAgentError,
		Title:   "Agent error",
	}
	require.NoError(t, s.Create(context.Background(), n))

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
	require.Len(t, store.created, 1)

	// Durable-запись дублируется realtime-наблюдателям
	require.Len(t, pub.events, 1)
	assert.Equal(t, "owner", pub.events[0].OwnerID)
}

func TestCreate_StoreFailureSkipsBroadcast(t *testing.T) {
	store := newFakeNotificationStore()
	store.createErr = errors.New("insert failed")
	pub := &capturingBroadcast{}
	s := New(store, pub, zap.NewNop())

	err := s.Create(context.Background(), &domain.Notification{OwnerID: "owner"})

	require.Error(t, err)
	assert.Empty(t, pub.events)
}

func TestCreate_PresetIDPreserved(t *testing.T) {
	store := newFakeNotificationStore()
	s := New(store, nil, zap.NewNop())

	n := &domain.Notification{ID: "fixed-id", OwnerID: "owner", CreatedAt: time.Now()}
	require.NoError(t, s.Create(context.Background(), n))

	assert.Equal(t, "fixed-id", n.ID)
}

func TestResolve(t *testing.T) {
	store := newFakeNotificationStore()
	s := New(store, nil, zap.NewNop())

	n := &domain.Notification{OwnerID: "owner"}
	require.NoError(t, s.Create(context.Background(), n))

	require.NoError(t, s.Resolve(context.Background(), "owner", n.ID, nil))
	assert.True(t, store.created[0].Resolved)

	err := s.Resolve(context.Background(), "owner", "missing", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHasEscalation(t *testing.T) {
	store := newFakeNotificationStore()
	s := New(store, nil, zap.NewNop())

	store.escalations["ref-1:1"] = 1

	got, err := s.HasEscalation(context.Background(), "owner", "ref-1", 1)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = s.HasEscalation(context.Background(), "owner", "ref-1", 2)
	require.NoError(t, err)
	assert.False(t, got)
}
