package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualSleeper_RecordsWithoutSleeping(t *testing.T) {
	s := NewManualSleeper()

	start := time.Now()
	require.NoError(t, s.Sleep(context.Background(), time.Hour))
	require.NoError(t, s.Sleep(context.Background(), 2*time.Hour))
	assert.Less(t, time.Since(start), time.Second, "manual sleeper must not block")

	assert.Equal(t, []time.Duration{time.Hour, 2 * time.Hour}, s.Slept())

	s.Reset()
	assert.Empty(t, s.Slept())
}

func TestManualSleeper_HonorsCancellation(t *testing.T) {
	s := NewManualSleeper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.Slept(), "cancelled sleep is not recorded")
}

func TestFixedNow(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := FixedNow(at)
	assert.Equal(t, at, now())
	assert.Equal(t, at, now(), "fixed clock never advances")
}
