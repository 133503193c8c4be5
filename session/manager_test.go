package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/store"
)

func newTestManagerStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestManagerCreateAndOpen(t *testing.T) {
	opener := &fakeOpener{}
	m := NewManager(opener, newTestManagerStore(t), nil, testConfig(), nil)

	coord, err := m.Create(context.Background())
	require.NoError(t, err)
	sessionID := coord.Session().SessionID
	require.NotEmpty(t, sessionID)

	// Opening a live session returns the same coordinator.
	again, err := m.Open(context.Background(), sessionID)
	require.NoError(t, err)
	require.Same(t, coord, again)

	_, err = m.Open(context.Background(), "sess_missing")
	require.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestManagerHydratesFromStore(t *testing.T) {
	st := newTestManagerStore(t)
	opener := &fakeOpener{}

	m := NewManager(opener, st, nil, testConfig(), nil)
	coord, err := m.Create(context.Background())
	require.NoError(t, err)
	sessionID := coord.Session().SessionID

	_, err = coord.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	ch := opener.last()
	ch.emit(t, domain.ContentDelta{Text: "world"}, domain.Done{})
	ch.finish()
	waitDone(t, coord)

	// A fresh manager over the same store sees the persisted history.
	fresh := NewManager(opener, st, nil, testConfig(), nil)
	hydrated, err := fresh.Open(context.Background(), sessionID)
	require.NoError(t, err)

	messages := hydrated.Messages()
	require.Len(t, messages, 2)
	require.Equal(t, "hello", messages[0].Content)
	require.Equal(t, "world", messages[1].Content)
	require.False(t, hydrated.Streaming())
}

func TestManagerList(t *testing.T) {
	m := NewManager(&fakeOpener{}, newTestManagerStore(t), nil, testConfig(), nil)

	for i := 0; i < 3; i++ {
		_, err := m.Create(context.Background())
		require.NoError(t, err)
	}

	sessions, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		require.NotEmpty(t, s.SessionID)
		require.WithinDuration(t, time.Now(), s.CreatedAt, time.Minute)
	}
}
