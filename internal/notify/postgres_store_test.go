//go:build integration

package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbande/biskato/internal/notify"
	"github.com/mbande/biskato/internal/testutil"
)

func TestPostgresStore_CreateAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := notify.NewPostgresStore(db)
	ctx := context.Background()

	n := &notify.Notification{
		ID:        "ntf_pg_1",
		EventID:   "evt_pg_1",
		UserID:    "buyer-pg",
		Kind:      "order.released",
		OrderID:   "ord_pg_1",
		Title:     "Payment released",
		Body:      "Payment of Kz 5000.00 was released to the seller.",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, n))

	list, err := store.ListByUser(ctx, "buyer-pg", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Payment released", list[0].Title)
	assert.False(t, list[0].Read)

	count, err := store.UnreadCount(ctx, "buyer-pg")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresStore_DuplicateEvent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := notify.NewPostgresStore(db)
	ctx := context.Background()

	n := &notify.Notification{
		ID:        "ntf_pg_2",
		EventID:   "evt_pg_2",
		UserID:    "seller-pg",
		Kind:      "order.released",
		OrderID:   "ord_pg_2",
		Title:     "Payment released",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, n))

	dup := *n
	dup.ID = "ntf_pg_3"
	assert.ErrorIs(t, store.Create(ctx, &dup), notify.ErrDuplicate)

	// Same event for a different user is a distinct notification
	other := *n
	other.ID = "ntf_pg_4"
	other.UserID = "buyer-pg"
	require.NoError(t, store.Create(ctx, &other))
}

func TestPostgresStore_MarkRead(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := notify.NewPostgresStore(db)
	ctx := context.Background()

	for i, id := range []string{"ntf_pg_a", "ntf_pg_b"} {
		require.NoError(t, store.Create(ctx, &notify.Notification{
			ID:        id,
			EventID:   "evt_pg_r" + id,
			UserID:    "buyer-pg",
			Kind:      "order.refunded",
			Title:     "Order refunded",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, store.MarkRead(ctx, "ntf_pg_a", "buyer-pg"))
	assert.ErrorIs(t, store.MarkRead(ctx, "ntf_pg_b", "intruder-1"), notify.ErrNotificationNotFound)

	unread, err := store.ListByUser(ctx, "buyer-pg", true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "ntf_pg_b", unread[0].ID)

	updated, err := store.MarkAllRead(ctx, "buyer-pg")
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	count, err := store.UnreadCount(ctx, "buyer-pg")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
