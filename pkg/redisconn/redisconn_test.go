package redisconn_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/funnelcore/pkg/redisconn"
)

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty URL returns ErrEmptyConnectionURL", func(t *testing.T) {
		t.Parallel()

		client, err := redisconn.Open(ctx, "")
		require.ErrorIs(t, err, redisconn.ErrEmptyConnectionURL)
		require.Nil(t, client)
	})

	t.Run("invalid scheme returns ErrFailedToParseURL", func(t *testing.T) {
		t.Parallel()

		for _, url := range []string{"http://localhost:6379", "localhost:6379", "postgresql://localhost:6379"} {
			client, err := redisconn.Open(ctx, url)
			require.ErrorIs(t, err, redisconn.ErrFailedToParseURL, url)
			require.Nil(t, client)
		}
	})
}

func TestOpen_Connects(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctx := context.Background()

	client, err := redisconn.Open(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	require.NotNil(t, client)

	require.NoError(t, redisconn.Healthcheck(client)(ctx))
	require.NoError(t, redisconn.Shutdown(client)(ctx))
	require.NoError(t, redisconn.Shutdown(client)(ctx), "closing twice is harmless")
}

func TestOpen_RetriesThenFails(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	client, err := redisconn.Open(context.Background(), "redis://"+addr,
		redisconn.WithRetry(2, 10*time.Millisecond),
		redisconn.WithTimeouts(100*time.Millisecond, 100*time.Millisecond, 100*time.Millisecond),
	)
	require.ErrorIs(t, err, redisconn.ErrConnectionFailed)
	require.Nil(t, client)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestOpen_RespectsContext(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := redisconn.Open(ctx, "redis://"+addr, redisconn.WithRetry(10, time.Second))
	require.ErrorIs(t, err, redisconn.ErrConnectionFailed)
}

func TestHealthcheck_NilClient(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, redisconn.Healthcheck(nil)(context.Background()), redisconn.ErrHealthcheckFailed)
	require.NoError(t, redisconn.Shutdown(nil)(context.Background()))
}
