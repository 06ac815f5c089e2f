package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/example/atelier-shop/internal/clock"
	"github.com/example/atelier-shop/internal/reservation"
)

const (
	// slack pushed past the exact expiry instant so a sweep never fires a
	// hair early and finds nothing.
	slack = time.Second

	// errBackoff is how long the loop sleeps after a store error before
	// asking for the next expiry again.
	errBackoff = 60 * time.Second
)

// Sweeper reclaims expired reservation holds in the background. It sleeps
// until the soonest known cart expiry, sweeps, and reschedules. Poke
// pre-empts the current timer whenever a new hold may have created an
// earlier deadline. With no pending expiries the loop blocks until poked.
type Sweeper struct {
	reservations *reservation.Service
	clock        clock.Clock
	backoff      time.Duration

	poke chan struct{}
	stop chan struct{}
	done chan struct{}
}

type Option func(*Sweeper)

// WithBackoff overrides the error backoff (tests use short durations).
func WithBackoff(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.backoff = d
		}
	}
}

func New(reservations *reservation.Service, clk clock.Clock, opts ...Option) *Sweeper {
	s := &Sweeper{
		reservations: reservations,
		clock:        clk,
		backoff:      errBackoff,
		poke:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Poke wakes the loop to recompute its next deadline. Never blocks; a
// pending poke coalesces with new ones.
func (s *Sweeper) Poke() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

func (s *Sweeper) run() {
	defer close(s.done)
	ctx := context.Background()

	for {
		next, pending, err := s.reservations.NextExpiry(ctx)
		if err != nil {
			log.Printf("[Sweeper] Failed to read next expiry: %v", err)
			if !s.sleep(s.backoff) {
				return
			}
			continue
		}

		var timerC <-chan time.Time
		var timer *time.Timer
		if pending {
			d := next.Sub(s.clock.Now()) + slack
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-s.stop:
			stopTimer(timer)
			return
		case <-s.poke:
			// A new hold may expire sooner than the armed deadline.
			stopTimer(timer)
			continue
		case <-timerC:
		}

		n, err := s.reservations.SweepExpired(ctx)
		if err != nil {
			log.Printf("[Sweeper] Sweep failed: %v", err)
			if !s.sleep(s.backoff) {
				return
			}
			continue
		}
		if n > 0 {
			log.Printf("[Sweeper] Reclaimed %d expired cart(s)", n)
		}
	}
}

// sleep waits for d but stays responsive to Stop and Poke. Returns false
// when the sweeper is stopping.
func (s *Sweeper) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stop:
		return false
	case <-s.poke:
		return true
	case <-t.C:
		return true
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
