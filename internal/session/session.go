// Package session holds the authenticated backend session. A Store is created
// once and passed to whoever needs the token; there is no package-level state.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

const storageKey = "session"

// ErrNoSession is returned by Token when nobody is logged in.
var ErrNoSession = errors.New("session: not logged in")

// Session is an authenticated backend session.
type Session struct {
	Token     string      `json:"token"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether the session has a known expiry in the past.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// KV is the persistence the store needs. *storage.Storage satisfies it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store keeps the current session in memory, persists it through KV and
// notifies subscribers on every change. A nil session means logged out.
type Store struct {
	mu     sync.RWMutex
	kv     KV
	cur    *Session
	subs   map[int]func(*Session)
	nextID int
	now    func() time.Time
	log    *zap.Logger
}

// NewStore creates a store. kv may be nil for a memory-only session.
func NewStore(kv KV, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, subs: make(map[int]func(*Session)), now: time.Now, log: log.Named("session")}
}

// Load restores a persisted session. A missing or expired session leaves the
// store logged out without error.
func (s *Store) Load(ctx context.Context) (*Session, error) {
	if s.kv == nil {
		return s.Current(), nil
	}
	data, err := s.kv.Get(ctx, storageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		s.log.Warn("discarding unreadable session", zap.Error(err))
		_ = s.kv.Delete(ctx, storageKey)
		return nil, nil
	}
	if sess.Expired(s.now()) {
		s.log.Info("stored session expired", zap.String("user", sess.User.Email))
		_ = s.kv.Delete(ctx, storageKey)
		return nil, nil
	}

	s.set(&sess)
	return &sess, nil
}

// Save replaces the current session and persists it.
func (s *Store) Save(ctx context.Context, sess Session) error {
	if sess.Token == "" {
		return errors.New("session: token is required")
	}
	if s.kv != nil {
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("session: encode: %w", err)
		}
		if err := s.kv.Put(ctx, storageKey, data); err != nil {
			return fmt.Errorf("session: save: %w", err)
		}
	}
	s.set(&sess)
	return nil
}

// Clear logs out.
func (s *Store) Clear(ctx context.Context) error {
	if s.kv != nil {
		if err := s.kv.Delete(ctx, storageKey); err != nil {
			return fmt.Errorf("session: clear: %w", err)
		}
	}
	s.set(nil)
	return nil
}

// Current returns a copy of the session, or nil when logged out or expired.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil || s.cur.Expired(s.now()) {
		return nil
	}
	cp := *s.cur
	return &cp
}

// Token returns the bearer token of the current session.
func (s *Store) Token() (string, error) {
	if cur := s.Current(); cur != nil {
		return cur.Token, nil
	}
	return "", ErrNoSession
}

// Subscribe registers fn to be called after every change. The returned
// function unsubscribes.
func (s *Store) Subscribe(fn func(*Session)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) set(sess *Session) {
	s.mu.Lock()
	s.cur = sess
	subs := make([]func(*Session), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		if sess == nil {
			fn(nil)
			continue
		}
		cp := *sess
		fn(&cp)
	}
}
