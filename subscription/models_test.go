package subscription_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tally/subscription"
)

func TestNext(t *testing.T) {
	tests := []struct {
		from subscription.State
		ev   subscription.Event
		to   subscription.State
	}{
		{subscription.StateTrial, subscription.EventPaymentReceived, subscription.StateActive},
		{subscription.StatePilot, subscription.EventPilotConverted, subscription.StateActive},
		{subscription.StateActive, subscription.EventPaymentOverdue, subscription.StateGracePeriod},
		{subscription.StateGracePeriod, subscription.EventPaymentReceived, subscription.StateActive},
		{subscription.StateGracePeriod, subscription.EventGraceExpired, subscription.StateSuspended},
		{subscription.StateSuspended, subscription.EventProlongedNonPayment, subscription.StateCancelled},
		{subscription.StateSuspended, subscription.EventCancel, subscription.StateCancelled},
		{subscription.StateTrial, subscription.EventPaymentOverdue, subscription.StateGracePeriod},
		{subscription.StateSuspended, subscription.EventPaymentReceived, subscription.StateActive},
		{subscription.StateActive, subscription.EventPaymentReceived, subscription.StateActive},
		{subscription.StatePilot, subscription.EventPaymentReceived, subscription.StatePilot},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := subscription.Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestNextCancelFromAnyLiveState(t *testing.T) {
	for _, s := range subscription.States() {
		if s.Terminal() {
			continue
		}
		got, err := subscription.Next(s, subscription.EventCancel)
		require.NoError(t, err, s)
		assert.Equal(t, subscription.StateCancelled, got)
	}
}

func TestNextRejected(t *testing.T) {
	tests := []struct {
		from subscription.State
		ev   subscription.Event
	}{
		{subscription.StateCancelled, subscription.EventPaymentReceived},
		{subscription.StateCancelled, subscription.EventCancel},
		{subscription.StateActive, subscription.EventGraceExpired},
		{subscription.StateActive, subscription.EventPilotConverted},
		{subscription.StatePilot, subscription.EventPaymentOverdue},
		{subscription.StateGracePeriod, subscription.EventProlongedNonPayment},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := subscription.Next(tt.from, tt.ev)
			require.Error(t, err)
			assert.Equal(t, tt.from, got)

			var te *subscription.TransitionError
			assert.True(t, errors.As(err, &te))
		})
	}
}

func TestNextUnknownState(t *testing.T) {
	_, err := subscription.Next("bogus", subscription.EventCancel)
	require.Error(t, err)
	assert.False(t, subscription.State("bogus").Valid())
}

func TestAcceptsUsage(t *testing.T) {
	accepting := map[subscription.State]bool{
		subscription.StateTrial:       true,
		subscription.StatePilot:       true,
		subscription.StateActive:      true,
		subscription.StateGracePeriod: true,
		subscription.StateSuspended:   false,
		subscription.StateCancelled:   false,
	}
	for s, want := range accepting {
		assert.Equal(t, want, s.AcceptsUsage(), s)
	}
}

func TestInitial(t *testing.T) {
	assert.Equal(t, subscription.StatePilot, subscription.Initial(true))
	assert.Equal(t, subscription.StateTrial, subscription.Initial(false))
}
