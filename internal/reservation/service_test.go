package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/domain/product"
	"github.com/example/atelier-shop/internal/infrastructure/store/mocks"
	"github.com/example/atelier-shop/internal/notify"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mocks.MockStore, *clock.Fake, *notify.MockPublisher) {
	t.Helper()
	st := mocks.NewMockStore()
	clk := clock.NewFake(testStart)
	pub := notify.NewMockPublisher()
	svc := NewService(st, st, clk, pub)
	return svc, st, clk, pub
}

func seedProduct(t *testing.T, st *mocks.MockStore, id string) {
	t.Helper()
	err := st.Put(context.Background(), &product.Product{
		ID:         id,
		Name:       "Moonstone ring",
		PriceCents: 18000,
		Status:     product.StatusAvailable,
	})
	require.NoError(t, err)
}

func TestReserve_Success(t *testing.T) {
	svc, st, _, pub := newTestService(t)
	seedProduct(t, st, "p1")

	c, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	assert.True(t, c.Contains("p1"))
	assert.Equal(t, testStart.Add(15*time.Minute), c.ExpiresAt)

	p := st.Products()["p1"]
	assert.Equal(t, product.StatusReserved, p.Status)
	assert.Equal(t, "alice", p.ReservedBy)
	assert.Contains(t, pub.TypesSeen(), notify.TypeProductReserved)
}

func TestReserve_AtMostOneHolder(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	_, err = svc.Reserve(context.Background(), "p1", "bob")
	require.ErrorIs(t, err, product.ErrReserved)

	// The loser's cart stays empty.
	c, err := svc.Cart(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, holder := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(i int, holder string) {
			defer wg.Done()
			_, errs[i] = svc.Reserve(context.Background(), "p1", holder)
		}(i, holder)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, product.ErrReserved):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one holder may win the race")
	assert.Equal(t, 1, losses)
}

func TestReserve_SameHolderIsIdempotent(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)
	c, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	assert.Len(t, c.Items, 1)
}

func TestReserve_ExpiredHoldCanBeTakenOver(t *testing.T) {
	svc, st, clk, _ := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)

	_, err = svc.Reserve(context.Background(), "p1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", st.Products()["p1"].ReservedBy)
}

func TestReserve_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	_, err := svc.Reserve(context.Background(), "missing", "alice")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestReserve_CartExpiryIsEarliestHold(t *testing.T) {
	svc, st, clk, _ := newTestService(t)
	seedProduct(t, st, "p1")
	seedProduct(t, st, "p2")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	c, err := svc.Reserve(context.Background(), "p2", "alice")
	require.NoError(t, err)

	// Adding a second item does not push the shared expiry out.
	assert.Equal(t, testStart.Add(15*time.Minute), c.ExpiresAt)
}

func TestReserve_InvokesWake(t *testing.T) {
	st := mocks.NewMockStore()
	woken := 0
	svc := NewService(st, st, clock.NewFake(testStart), notify.NewMockPublisher(),
		WithWake(func() { woken++ }))
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, woken)
}

func TestRelease_RemovesHoldAndCartItem(t *testing.T) {
	svc, st, _, pub := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Release(context.Background(), "p1", "alice"))

	assert.Equal(t, product.StatusAvailable, st.Products()["p1"].Status)
	c, err := svc.Cart(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.ExpiresAt.IsZero())
	assert.Contains(t, pub.TypesSeen(), notify.TypeProductReleased)
}

func TestRelease_Idempotent(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	// Never held: no error.
	require.NoError(t, svc.Release(context.Background(), "p1", "alice"))

	// Held by someone else: no error, hold untouched.
	_, err := svc.Reserve(context.Background(), "p1", "bob")
	require.NoError(t, err)
	require.NoError(t, svc.Release(context.Background(), "p1", "alice"))
	assert.Equal(t, "bob", st.Products()["p1"].ReservedBy)
}

func TestConsume_ProductIsGone(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Consume(context.Background(), "p1"))

	_, err = st.Get(context.Background(), "p1")
	require.ErrorIs(t, err, product.ErrNotFound)

	// A later reserve sees not-found, not a conflict.
	_, err = svc.Reserve(context.Background(), "p1", "bob")
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestSweepExpired_ReclaimsWholeCart(t *testing.T) {
	svc, st, clk, pub := newTestService(t)
	seedProduct(t, st, "p1")
	seedProduct(t, st, "p2")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)
	_, err = svc.Reserve(context.Background(), "p2", "alice")
	require.NoError(t, err)

	clk.Advance(16 * time.Minute)

	n, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, p := range st.Products() {
		assert.Equal(t, product.StatusAvailable, p.Status)
	}
	c, err := svc.Cart(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.Contains(t, pub.TypesSeen(), notify.TypeReservationExpired)
}

func TestSweepExpired_NothingDue(t *testing.T) {
	svc, st, _, _ := newTestService(t)
	seedProduct(t, st, "p1")

	_, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	n, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, product.StatusReserved, st.Products()["p1"].Status)
}

func TestNextExpiry(t *testing.T) {
	svc, st, _, _ := newTestService(t)

	_, pending, err := svc.NextExpiry(context.Background())
	require.NoError(t, err)
	assert.False(t, pending)

	seedProduct(t, st, "p1")
	_, err = svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)

	next, pending, err := svc.NextExpiry(context.Background())
	require.NoError(t, err)
	require.True(t, pending)
	assert.Equal(t, testStart.Add(15*time.Minute), next)
}

func TestWithHoldTTL(t *testing.T) {
	st := mocks.NewMockStore()
	svc := NewService(st, st, clock.NewFake(testStart), notify.NewMockPublisher(),
		WithHoldTTL(5*time.Minute))
	seedProduct(t, st, "p1")

	c, err := svc.Reserve(context.Background(), "p1", "alice")
	require.NoError(t, err)
	assert.Equal(t, testStart.Add(5*time.Minute), c.ExpiresAt)
	assert.Equal(t, 5*time.Minute, svc.HoldTTL())
}
