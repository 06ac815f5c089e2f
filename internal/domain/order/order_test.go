package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo_ForwardPath(t *testing.T) {
	o := &Order{Status: StatusPaid}
	assert.True(t, o.CanTransitionTo(StatusPreparing))
	assert.True(t, o.CanTransitionTo(StatusDelivered)) // skipped intermediate updates
	assert.True(t, o.CanTransitionTo(StatusCancelRequested))
	assert.False(t, o.CanTransitionTo(StatusReturnRequested))

	o.Status = StatusInTransit
	assert.True(t, o.CanTransitionTo(StatusOutForDelivery))
	assert.True(t, o.CanTransitionTo(StatusDelivered))
	assert.False(t, o.CanTransitionTo(StatusPreparing)) // no going backwards
	assert.False(t, o.CanTransitionTo(StatusCancelRequested))
}

func TestCanTransitionTo_DeliveredReentersViaReturn(t *testing.T) {
	o := &Order{Status: StatusDelivered}
	assert.True(t, o.CanTransitionTo(StatusReturnRequested))
	assert.False(t, o.CanTransitionTo(StatusDelivered))
	assert.False(t, o.CanTransitionTo(StatusInTransit))
}

func TestCanTransitionTo_ReturnBranch(t *testing.T) {
	o := &Order{Status: StatusReturnRequested}
	assert.True(t, o.CanTransitionTo(StatusDelivered)) // rejection restores delivered
	assert.True(t, o.CanTransitionTo(StatusReturnInTransit))
	assert.True(t, o.CanTransitionTo(StatusReturnDelivered))

	o.Status = StatusReturnInTransit
	assert.True(t, o.CanTransitionTo(StatusReturnDelivered))
	assert.False(t, o.CanTransitionTo(StatusDelivered))

	o.Status = StatusReturnDelivered
	assert.True(t, o.CanTransitionTo(StatusReturned))
}

func TestCanTransitionTo_TerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCancelled, StatusReturned} {
		o := &Order{Status: s}
		for target := range validTransitions {
			assert.False(t, o.CanTransitionTo(target), "%s must not leave %s", target, s)
		}
		assert.True(t, s.IsTerminal())
	}
	assert.False(t, StatusDelivered.IsTerminal())
}

func TestCanTransitionTo_CancelRequestRestore(t *testing.T) {
	o := &Order{Status: StatusCancelRequested}
	assert.True(t, o.CanTransitionTo(StatusCancelled))
	assert.True(t, o.CanTransitionTo(StatusPaid))
	assert.True(t, o.CanTransitionTo(StatusPreparing))
	// The carrier can still deliver while a cancel request is pending.
	assert.True(t, o.CanTransitionTo(StatusDelivered))
	assert.False(t, o.CanTransitionTo(StatusReturnRequested))
}

func TestTransitionError(t *testing.T) {
	o := &Order{Status: StatusCancelled}
	require.ErrorIs(t, o.TransitionError(StatusPreparing), ErrOrderCancelled)

	o.Status = StatusReturned
	require.ErrorIs(t, o.TransitionError(StatusDelivered), ErrOrderReturned)

	o.Status = StatusDelivered
	require.ErrorIs(t, o.TransitionError(StatusDelivered), ErrAlreadyDelivered)

	o.Status = StatusReady
	err := o.TransitionError(StatusPreparing)
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Contains(t, err.Error(), "ready")
	assert.Contains(t, err.Error(), "preparing")
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusPaid.Cancellable())
	assert.True(t, StatusPreparing.Cancellable())
	assert.False(t, StatusReady.Cancellable())
	assert.False(t, StatusDelivered.Cancellable())

	assert.True(t, StatusReturnRequested.InReturnFlow())
	assert.True(t, StatusReturnInTransit.InReturnFlow())
	assert.True(t, StatusReturnDelivered.InReturnFlow())
	assert.True(t, StatusReturned.InReturnFlow())
	assert.False(t, StatusDelivered.InReturnFlow())
	assert.False(t, StatusCancelled.InReturnFlow())
}
