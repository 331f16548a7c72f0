package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/session"
	"github.com/apetrenko/keyfort/internal/storage"
	"github.com/apetrenko/keyfort/internal/vault"
)

func setupDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	dbSeq++
	dsn := fmt.Sprintf("file:dispatcher_tests_%d?mode=memory&cache=shared", dbSeq)
	store, err := storage.New("sqlite", dsn)
	require.NoError(t, err)

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	v := vault.New(log, store)
	t.Cleanup(func() { _ = v.Close() })

	ctx := context.Background()
	require.NoError(t, v.Install(ctx, "admin", "admin-secret"))
	_, err = v.NewUser(ctx, "alice", "alice-secret", 0)
	require.NoError(t, err)

	h := New(log, v, session.NewStore(log, session.Options{}), Options{})
	d := NewDispatcher(log, h)
	t.Cleanup(d.Shutdown)
	return d
}

func TestDispatcher_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	reply, err := d.Do(ctx, Login{Username: "alice", Password: "alice-secret"})
	require.NoError(t, err)
	lr, ok := reply.(LoginReply)
	require.True(t, ok)
	assert.Empty(t, lr.Error)
	assert.NotEmpty(t, lr.SessionID)
}

func TestDispatcher_ConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	d := setupDispatcher(t)

	reply, err := d.Do(ctx, Login{Username: "alice", Password: "alice-secret"})
	require.NoError(t, err)
	alice := reply.(LoginReply)

	// The vault is single-threaded behind the dispatcher; hammering it from
	// many goroutines must stay coherent. All calls use the login token:
	// rotated tokens stay valid within the retention ring, so with default
	// retention at least the first few succeed and none may race.
	var wg sync.WaitGroup
	replies := make([]Reply, 8)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := d.Do(ctx, IsOpen{SessionID: alice.SessionID, Token: alice.Token})
			assert.NoError(t, err)
			replies[i] = r
		}(i)
	}
	wg.Wait()

	open := 0
	for _, r := range replies {
		ir, ok := r.(IsOpenReply)
		require.True(t, ok)
		if ir.Open {
			open++
		}
	}
	// Exactly retention-many calls see the login token before rotation
	// pushes it out of the ring.
	assert.Equal(t, session.DefaultTokenRetention, open)
}

func TestDispatcher_CanceledContext(t *testing.T) {
	d := setupDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Do(ctx, Login{Username: "alice", Password: "alice-secret"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_Stopped(t *testing.T) {
	d := setupDispatcher(t)
	d.Shutdown()

	_, err := d.Do(context.Background(), Login{Username: "alice", Password: "alice-secret"})
	assert.Error(t, err)
}
