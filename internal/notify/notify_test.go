package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	sent []*Notification
}

func (b *captureBroadcaster) BroadcastNotification(n *Notification) {
	b.sent = append(b.sent, n)
}

func newTestService() (*Service, *captureBroadcaster) {
	b := &captureBroadcaster{}
	svc := NewService(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil))).WithBroadcaster(b)
	return svc, b
}

func TestNotify(t *testing.T) {
	svc, b := newTestService()
	ctx := context.Background()

	err := svc.Notify(ctx, &Notification{
		EventID: "evt_1",
		UserID:  "usr_seller",
		Kind:    "order.released",
		OrderID: "ord_1",
		Title:   "Payment released",
		Body:    "Kz 5000.00 has been released to you.",
	})
	require.NoError(t, err)

	list, err := svc.ListByUser(ctx, "usr_seller", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].ID, "ntf_")
	assert.False(t, list[0].Read)
	assert.False(t, list[0].CreatedAt.IsZero())

	require.Len(t, b.sent, 1)
	assert.Equal(t, "order.released", b.sent[0].Kind)
}

func TestNotify_DuplicateEventSkipped(t *testing.T) {
	svc, b := newTestService()
	ctx := context.Background()

	n := func() *Notification {
		return &Notification{
			EventID: "evt_1",
			UserID:  "usr_buyer",
			Kind:    "order.refunded",
			Title:   "Order refunded",
		}
	}
	require.NoError(t, svc.Notify(ctx, n()))
	require.NoError(t, svc.Notify(ctx, n()))

	list, _ := svc.ListByUser(ctx, "usr_buyer", false, 10)
	assert.Len(t, list, 1)
	assert.Len(t, b.sent, 1, "duplicate must not broadcast")
}

func TestNotify_SameEventDifferentUsers(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, &Notification{EventID: "evt_1", UserID: "usr_buyer", Kind: "order.split", Title: "Order settled"}))
	require.NoError(t, svc.Notify(ctx, &Notification{EventID: "evt_1", UserID: "usr_seller", Kind: "order.split", Title: "Order settled"}))

	buyer, _ := svc.ListByUser(ctx, "usr_buyer", false, 10)
	seller, _ := svc.ListByUser(ctx, "usr_seller", false, 10)
	assert.Len(t, buyer, 1)
	assert.Len(t, seller, 1)
}

func TestMarkRead(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, &Notification{EventID: "evt_1", UserID: "usr_a", Kind: "order.disputed", Title: "Dispute opened"}))
	list, _ := svc.ListByUser(ctx, "usr_a", false, 10)
	require.Len(t, list, 1)

	require.NoError(t, svc.MarkRead(ctx, list[0].ID, "usr_a"))

	unread, _ := svc.ListByUser(ctx, "usr_a", true, 10)
	assert.Empty(t, unread)

	count, _ := svc.UnreadCount(ctx, "usr_a")
	assert.Equal(t, 0, count)
}

func TestMarkRead_WrongUser(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, svc.Notify(ctx, &Notification{EventID: "evt_1", UserID: "usr_a", Kind: "order.rated", Title: "New rating"}))
	list, _ := svc.ListByUser(ctx, "usr_a", false, 10)
	require.Len(t, list, 1)

	err := svc.MarkRead(ctx, list[0].ID, "usr_b")
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestMarkAllRead(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, evt := range []string{"evt_1", "evt_2", "evt_3"} {
		require.NoError(t, svc.Notify(ctx, &Notification{EventID: evt, UserID: "usr_a", Kind: "order.released", Title: "Payment released"}))
	}
	require.NoError(t, svc.Notify(ctx, &Notification{EventID: "evt_4", UserID: "usr_b", Kind: "order.released", Title: "Payment released"}))

	changed, err := svc.MarkAllRead(ctx, "usr_a")
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	count, _ := svc.UnreadCount(ctx, "usr_a")
	assert.Equal(t, 0, count)
	otherCount, _ := svc.UnreadCount(ctx, "usr_b")
	assert.Equal(t, 1, otherCount)
}

func TestNotify_NoBroadcaster(t *testing.T) {
	svc := NewService(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := svc.Notify(context.Background(), &Notification{EventID: "evt_1", UserID: "usr_a", Kind: "order.released", Title: "Payment released"})
	assert.NoError(t, err)
}
