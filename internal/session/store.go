package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nuwan94/leaf/internal/storage"
)

// Key is the storage key of the current session record.
const Key = "current_session"

var (
	// ErrNoSession is returned when an operation needs a session and none exists.
	ErrNoSession = errors.New("no active session")
	// ErrStaleGeneration is returned when a write was computed against a
	// session that has since been replaced or cleared.
	ErrStaleGeneration = errors.New("session changed since generation")
)

// Generation identifies one incarnation of the session record. It changes on
// every Save and Clear but not on token rotation.
type Generation uint64

// Store owns the persisted session record. No other component in the
// process writes Key. Every read goes back to the backing store, so Stores in
// other processes sharing the same backend observe logouts and rotations; a
// record that changed underneath this Store counts as a new generation.
type Store struct {
	kv storage.Store

	mu  sync.Mutex
	cur *Session
	gen Generation
}

// NewStore returns a Store persisting to kv.
func NewStore(kv storage.Store) *Store {
	return &Store{kv: kv}
}

// Snapshot returns the current session and its generation. ok is false when
// no session exists.
func (s *Store) Snapshot(ctx context.Context) (sess Session, gen Generation, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return Session{}, 0, false, err
	}
	if s.cur == nil {
		return Session{}, s.gen, false, nil
	}
	return *s.cur, s.gen, true, nil
}

// Current returns the session, if any.
func (s *Store) Current(ctx context.Context) (Session, bool, error) {
	sess, _, ok, err := s.Snapshot(ctx)
	return sess, ok, err
}

// AccessToken returns the current access token or "" when logged out.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	sess, ok, err := s.Current(ctx)
	if err != nil || !ok {
		return "", err
	}
	return sess.AccessToken, nil
}

// Save persists sess as a new session and returns its generation.
func (s *Store) Save(ctx context.Context, sess Session) (Generation, error) {
	if !sess.Valid() {
		return 0, fmt.Errorf("save session: missing user id or access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := storage.SetJSON(ctx, s.kv, Key, sess); err != nil {
		return 0, fmt.Errorf("save session: %w", err)
	}
	s.cur = &sess
	s.gen++
	return s.gen, nil
}

// UpdateTokens rotates the token pair of the session at generation gen.
// It fails with ErrStaleGeneration when the session was cleared or replaced
// after gen was observed, so a late refresh cannot resurrect a logged-out
// session.
func (s *Store) UpdateTokens(ctx context.Context, gen Generation, accessToken, refreshToken string) error {
	if accessToken == "" {
		return fmt.Errorf("update tokens: empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return err
	}
	if s.cur == nil || s.gen != gen {
		return ErrStaleGeneration
	}

	next := *s.cur
	next.AccessToken = accessToken
	if refreshToken != "" {
		next.RefreshToken = refreshToken
	}
	if err := storage.SetJSON(ctx, s.kv, Key, next); err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	s.cur = &next
	return nil
}

// Clear removes the session record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cur = nil
	s.gen++
	if err := s.kv.Remove(ctx, Key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// ClearIf removes the session only while it is still at generation gen. It
// reports whether the record was cleared.
func (s *Store) ClearIf(ctx context.Context, gen Generation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}
	if s.cur == nil || s.gen != gen {
		return false, nil
	}
	s.cur = nil
	s.gen++
	if err := s.kv.Remove(ctx, Key); err != nil {
		return true, fmt.Errorf("clear session: %w", err)
	}
	return true, nil
}

// loadLocked re-reads the record and bumps the generation when it no longer
// matches the in-memory copy.
func (s *Store) loadLocked(ctx context.Context) error {
	var sess Session
	ok, err := storage.GetJSON(ctx, s.kv, Key, &sess)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !ok || !sess.Valid() {
		if s.cur != nil {
			s.cur = nil
			s.gen++
		}
		return nil
	}
	if s.cur == nil || !sameTokens(*s.cur, sess) {
		s.gen++
	}
	s.cur = &sess
	return nil
}

func sameTokens(a, b Session) bool {
	return a.UserID == b.UserID &&
		a.AccessToken == b.AccessToken &&
		a.RefreshToken == b.RefreshToken
}
