package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

func newStore(t *testing.T) (*Store, *storage.Storage) {
	t.Helper()
	db, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil), db
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)

	sess, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	_, err = s.Token()
	assert.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, s.Save(ctx, Session{Token: "tok-1", User: models.User{ID: "u1", Email: "ana@bank.example"}}))
	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// A fresh store over the same database restores the session.
	restored := NewStore(db, nil)
	sess, err = restored.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "ana@bank.example", sess.User.Email)

	require.NoError(t, restored.Clear(ctx))
	assert.Nil(t, restored.Current())
	sess, _ = NewStore(db, nil).Load(ctx)
	assert.Nil(t, sess)
}

func TestStoreExpiredSession(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Save(ctx, Session{Token: "t", ExpiresAt: now.Add(time.Hour)}))
	assert.NotNil(t, s.Current())

	now = now.Add(2 * time.Hour)
	assert.Nil(t, s.Current())

	later := NewStore(db, nil)
	later.now = s.now
	sess, err := later.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	_, err = db.Get(ctx, storageKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired session should be purged")
}

func TestStoreSubscribe(t *testing.T) {
	ctx := context.Background()
	s := NewStore(nil, nil)

	var seen []string
	unsubscribe := s.Subscribe(func(sess *Session) {
		if sess == nil {
			seen = append(seen, "logout")
			return
		}
		seen = append(seen, sess.Token)
	})

	require.NoError(t, s.Save(ctx, Session{Token: "a"}))
	require.NoError(t, s.Clear(ctx))
	unsubscribe()
	require.NoError(t, s.Save(ctx, Session{Token: "b"}))

	assert.Equal(t, []string{"a", "logout"}, seen)
}

func TestStoreRejectsEmptyToken(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Error(t, s.Save(context.Background(), Session{}))
}

func TestStoreUnreadableSessionDiscarded(t *testing.T) {
	ctx := context.Background()
	s, db := newStore(t)
	require.NoError(t, db.Put(ctx, storageKey, []byte("{not json")))

	sess, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
}
