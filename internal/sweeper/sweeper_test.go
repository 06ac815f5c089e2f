package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/domain/product"
	"github.com/example/atelier-shop/internal/infrastructure/store/mocks"
	"github.com/example/atelier-shop/internal/notify"
	"github.com/example/atelier-shop/internal/reservation"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T, opts ...Option) (*Sweeper, *reservation.Service, *mocks.MockStore, *clock.Fake) {
	t.Helper()
	st := mocks.NewMockStore()
	clk := clock.NewFake(testStart)
	svc := reservation.NewService(st, st, clk, notify.NewMockPublisher())
	swp := New(svc, clk, opts...)
	return swp, svc, st, clk
}

func reserve(t *testing.T, svc *reservation.Service, st *mocks.MockStore, productID, holder string) {
	t.Helper()
	require.NoError(t, st.Put(context.Background(), &product.Product{
		ID:     productID,
		Name:   "Garnet studs",
		Status: product.StatusAvailable,
	}))
	_, err := svc.Reserve(context.Background(), productID, holder)
	require.NoError(t, err)
}

func productAvailable(st *mocks.MockStore, id string) func() bool {
	return func() bool {
		p, ok := st.Products()[id]
		return ok && p.Status == product.StatusAvailable
	}
}

func TestSweeper_ReclaimsExpiredHoldOnPoke(t *testing.T) {
	swp, svc, st, clk := newTestSweeper(t)
	reserve(t, svc, st, "p1", "alice")

	swp.Start()
	defer swp.Stop()

	// The hold lapses; poke so the loop re-reads the (now past) deadline.
	clk.Advance(16 * time.Minute)
	swp.Poke()

	assert.Eventually(t, productAvailable(st, "p1"), 3*time.Second, 10*time.Millisecond)
}

func TestSweeper_DoesNotSweepLiveHolds(t *testing.T) {
	swp, svc, st, _ := newTestSweeper(t)
	reserve(t, svc, st, "p1", "alice")

	swp.Start()
	swp.Poke()
	time.Sleep(100 * time.Millisecond)
	swp.Stop()

	p := st.Products()["p1"]
	assert.Equal(t, product.StatusReserved, p.Status)
}

func TestSweeper_StopWhileIdle(t *testing.T) {
	swp, _, _, _ := newTestSweeper(t)
	swp.Start()

	done := make(chan struct{})
	go func() {
		swp.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while idle")
	}
}

func TestSweeper_StopWhileTimerArmed(t *testing.T) {
	swp, svc, st, _ := newTestSweeper(t)
	reserve(t, svc, st, "p1", "alice") // deadline 15 minutes out

	swp.Start()
	swp.Poke()
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		swp.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return with a timer armed")
	}
}

func TestSweeper_RecoversFromStoreErrors(t *testing.T) {
	swp, svc, st, clk := newTestSweeper(t, WithBackoff(10*time.Millisecond))
	reserve(t, svc, st, "p1", "alice")
	clk.Advance(16 * time.Minute)

	st.SetFailWith(assert.AnError)
	swp.Start()
	defer swp.Stop()
	swp.Poke()

	// Let it hit the error path a few times, then heal the store.
	time.Sleep(50 * time.Millisecond)
	st.SetFailWith(nil)

	assert.Eventually(t, productAvailable(st, "p1"), 3*time.Second, 10*time.Millisecond)
}
