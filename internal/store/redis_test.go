package store

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fusion-svr/internal/cot"
	"fusion-svr/internal/observability"
)

// deadAddr returns a local address nothing listens on.
func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func newDeadStore(t *testing.T) *RedisStore {
	t.Helper()
	s := NewRedisStore(Options{
		Addr:             deadAddr(t),
		MaxRetries:       -1,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	s := newDeadStore(t)
	ctx := context.Background()
	ev := cot.NewEntity("ANDROID-1", "a-f-G-U-C", time.Now())

	before := testutil.ToFloat64(observability.StoreErrors.WithLabelValues("save_track"))
	for i := 0; i < 3; i++ {
		err := s.SaveTrack(ctx, ev)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.Equal(t, "open", s.BreakerState())

	err := s.PublishEvent(ctx, ev)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, before+3, testutil.ToFloat64(observability.StoreErrors.WithLabelValues("save_track")))
}

func TestSaveTrackSkipsStaleEvents(t *testing.T) {
	s := newDeadStore(t)
	ev := cot.NewPing("fusion-1", time.Now().Add(-time.Minute))

	assert.NoError(t, s.SaveTrack(context.Background(), ev))
	assert.Equal(t, "closed", s.BreakerState())
}

func TestTracksEmpty(t *testing.T) {
	s := newDeadStore(t)
	out, err := s.Tracks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
