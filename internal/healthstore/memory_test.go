package healthstore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAbsentIsUnknown(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusUnknown, got)
	require.True(t, got.Healthy())
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, StatusDown, time.Minute))
	got, err := s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusDown, got)
	require.False(t, got.Healthy())

	// Last writer wins.
	require.NoError(t, s.SetStatus(ctx, StatusUp, time.Minute))
	got, err = s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusUp, got)
}

func TestMemoryStoreExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemoryStoreWithClock(clock)
	ctx := context.Background()

	require.NoError(t, s.SetStatus(ctx, StatusDown, 600*time.Second))

	clock.Advance(599 * time.Second)
	got, err := s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusDown, got)

	clock.Advance(2 * time.Second)
	got, err = s.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusUnknown, got, "expired record must read as unknown")
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusUp, ParseStatus("up"))
	require.Equal(t, StatusDown, ParseStatus("down"))
	require.Equal(t, StatusUnknown, ParseStatus(""))
	require.Equal(t, StatusUnknown, ParseStatus("degraded"))
}
