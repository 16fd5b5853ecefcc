package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- test consumers ----

type recordingConsumer struct {
	name    string
	handled []string
	err     error
}

func (r *recordingConsumer) Name() string { return r.name }

func (r *recordingConsumer) Handle(_ context.Context, ev *Event) error {
	if r.err != nil {
		return r.err
	}
	r.handled = append(r.handled, ev.ID)
	return nil
}

// flakyConsumer fails the first n calls, then succeeds.
type flakyConsumer struct {
	failures int
	handled  []string
}

func (f *flakyConsumer) Name() string { return "flaky" }

func (f *flakyConsumer) Handle(_ context.Context, ev *Event) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("transient failure")
	}
	f.handled = append(f.handled, ev.ID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPayload(orderID string) Payload {
	return Payload{
		OrderID:  orderID,
		BuyerID:  "usr_buyer",
		SellerID: "usr_seller",
		Amount:   "5000.00",
	}
}

// ---- Record ----

func TestRecord(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	err := ob.Record(ctx, KindOrderReleased, testPayload("ord_1"))
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	ev := pending[0]
	assert.Equal(t, KindOrderReleased, ev.Kind)
	assert.Equal(t, "ord_1", ev.OrderID)
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, 0, ev.Attempts)
	assert.NotEmpty(t, ev.ID)
	assert.Contains(t, ev.ID, "evt_")
}

func TestRecord_UnknownKind(t *testing.T) {
	ob := New(NewMemoryStore())
	err := ob.Record(context.Background(), "order.teleported", testPayload("ord_1"))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestRecord_DistinctIDs(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))
	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))

	pending, _ := store.ListPending(ctx, 10)
	require.Len(t, pending, 2)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)
}

// ---- Relay ----

func TestRelay_DeliversToAllConsumers(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))
	require.NoError(t, ob.Record(ctx, KindOrderRefunded, testPayload("ord_2")))

	ledger := &recordingConsumer{name: "ledger"}
	receipts := &recordingConsumer{name: "receipts"}
	relay := NewRelay(store, testLogger())
	relay.Register(ledger)
	relay.Register(receipts)

	relay.Drain(ctx)

	assert.Len(t, ledger.handled, 2)
	assert.Len(t, receipts.handled, 2)

	pending, _ := store.ListPending(ctx, 10)
	assert.Empty(t, pending)

	count, _ := store.PendingCount(ctx)
	assert.Equal(t, 0, count)
}

func TestRelay_FailureRetriesAllConsumers(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))

	first := &recordingConsumer{name: "first"}
	second := &flakyConsumer{failures: 1}
	relay := NewRelay(store, testLogger())
	relay.Register(first)
	relay.Register(second)

	// First drain: second consumer fails, event stays pending.
	relay.Drain(ctx)
	pending, _ := store.ListPending(ctx, 10)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Contains(t, pending[0].LastError, "flaky")

	// Second drain: both succeed. The first consumer saw the event twice,
	// which is the contract consumers must tolerate.
	relay.Drain(ctx)
	pending, _ = store.ListPending(ctx, 10)
	assert.Empty(t, pending)
	assert.Len(t, first.handled, 2)
	assert.Len(t, second.handled, 1)
}

func TestRelay_ParksAfterMaxAttempts(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))

	broken := &recordingConsumer{name: "broken", err: errors.New("downstream gone")}
	relay := NewRelay(store, testLogger()).WithMaxAttempts(3)
	relay.Register(broken)

	for i := 0; i < 3; i++ {
		relay.Drain(ctx)
	}

	pending, _ := store.ListPending(ctx, 10)
	assert.Empty(t, pending)

	parked, err := store.ListParked(ctx, 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, StatusParked, parked[0].Status)
	assert.Equal(t, 3, parked[0].Attempts)
	assert.Contains(t, parked[0].LastError, "downstream gone")
}

func TestRelay_ParkedEventsAreSkipped(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))

	broken := &recordingConsumer{name: "broken", err: errors.New("boom")}
	relay := NewRelay(store, testLogger()).WithMaxAttempts(1)
	relay.Register(broken)
	relay.Drain(ctx)

	parked, _ := store.ListParked(ctx, 10)
	require.Len(t, parked, 1)
	attempts := parked[0].Attempts

	// Further drains must not touch the parked event.
	relay.Drain(ctx)
	parked, _ = store.ListParked(ctx, 10)
	require.Len(t, parked, 1)
	assert.Equal(t, attempts, parked[0].Attempts)
}

func TestRequeue(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_1")))

	broken := &recordingConsumer{name: "broken", err: errors.New("boom")}
	relay := NewRelay(store, testLogger()).WithMaxAttempts(1)
	relay.Register(broken)
	relay.Drain(ctx)

	parked, _ := ob.ListParked(ctx, 10)
	require.Len(t, parked, 1)

	require.NoError(t, ob.Requeue(ctx, parked[0].ID))

	pending, _ := store.ListPending(ctx, 10)
	require.Len(t, pending, 1)
	assert.Empty(t, pending[0].LastError)

	// After the operator fixes the consumer the requeued event delivers.
	broken.err = nil
	relay.Drain(ctx)
	done, err := store.Get(ctx, parked[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.NotNil(t, done.DispatchedAt)
}

func TestRequeue_NotFound(t *testing.T) {
	ob := New(NewMemoryStore())
	err := ob.Requeue(context.Background(), "evt_missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRelay_OldestFirst(t *testing.T) {
	store := NewMemoryStore()
	ob := New(store)
	ctx := context.Background()

	require.NoError(t, ob.Record(ctx, KindOrderReleased, testPayload("ord_a")))
	require.NoError(t, ob.Record(ctx, KindOrderRefunded, testPayload("ord_b")))
	require.NoError(t, ob.Record(ctx, KindOrderSplit, testPayload("ord_c")))

	pending, err := store.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i := 1; i < len(pending); i++ {
		assert.False(t, pending[i].CreatedAt.Before(pending[i-1].CreatedAt))
	}
}

func TestRelay_StartStop(t *testing.T) {
	relay := NewRelay(NewMemoryStore(), testLogger())
	assert.False(t, relay.Running())

	relay.Start()
	assert.True(t, relay.Running())
	relay.Start() // second Start is a no-op

	relay.Stop()
	assert.False(t, relay.Running())
	relay.Stop() // second Stop is a no-op
}
