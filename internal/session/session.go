// Package session keeps the in-memory table of authenticated sessions.
//
// A session is a {sessionid, token} pair of strong random strings. The
// token rotates on every authenticated exchange; a short ring of recent
// tokens stays valid so an in-flight reply does not cut the client off.
// Each user has at most one live session: opening a new one evicts the
// old atomically.
package session

import (
	"crypto/subtle"
	"sync"

	"github.com/apetrenko/keyfort/internal/cryptox"
	"github.com/apetrenko/keyfort/internal/logging"
	"github.com/apetrenko/keyfort/internal/vault"
)

const (
	DefaultSessionIDLength = 128
	DefaultTokenLength     = 128
	DefaultTokenRetention  = 5
)

// Options tune the session store; zero values fall back to the defaults.
type Options struct {
	SessionIDLength int
	TokenLength     int
	TokenRetention  int
}

// Store indexes sessions both by sessionid and by user. Safe for
// concurrent use.
type Store struct {
	mu           sync.Mutex
	log          logging.Logger
	perUser      map[*vault.User]*Data
	perSessionID map[string]*Data

	sessionIDLength int
	tokenLength     int
	tokenRetention  int
}

// Data is one live session. Accessors are safe for concurrent use.
type Data struct {
	store     *Store
	sessionID string
	tokens    []string // newest first
	user      *vault.User
}

func NewStore(log logging.Logger, opts Options) *Store {
	if opts.SessionIDLength <= 0 {
		opts.SessionIDLength = DefaultSessionIDLength
	}
	if opts.TokenLength <= 0 {
		opts.TokenLength = DefaultTokenLength
	}
	if opts.TokenRetention <= 0 {
		opts.TokenRetention = DefaultTokenRetention
	}
	return &Store{
		log:             log,
		perUser:         make(map[*vault.User]*Data),
		perSessionID:    make(map[string]*Data),
		sessionIDLength: opts.SessionIDLength,
		tokenLength:     opts.TokenLength,
		tokenRetention:  opts.TokenRetention,
	}
}

// Set opens a session for the user, evicting any existing one. The user is
// keyed by identity, not by name: eviction and insertion happen under one
// lock so there is never a moment with two valid sessions for one user.
func (s *Store) Set(user *vault.User) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.perUser[user]; ok {
		delete(s.perSessionID, old.sessionID)
		delete(s.perUser, user)
	}

	sessionID, err := cryptox.RandomString32(s.sessionIDLength)
	if err != nil {
		return nil, err
	}
	data := &Data{store: s, sessionID: sessionID, user: user}
	if err := data.rotateLocked(); err != nil {
		return nil, err
	}

	s.perSessionID[sessionID] = data
	s.perUser[user] = data
	return data, nil
}

// Get returns the session when both the sessionid and the token check out.
// A wrong token and an unknown sessionid are indistinguishable: both
// return nil.
func (s *Store) Get(sessionID, token string) *Data {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.perSessionID[sessionID]
	if !ok {
		return nil
	}
	for _, check := range data.tokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(check)) == 1 {
			return data
		}
	}
	return nil
}

// rotateLocked prepends a fresh token and drops the stale tail. Callers
// hold the store lock.
func (d *Data) rotateLocked() error {
	token, err := cryptox.RandomString32(d.store.tokenLength)
	if err != nil {
		return err
	}
	d.tokens = append([]string{token}, d.tokens...)
	if len(d.tokens) > d.store.tokenRetention {
		d.tokens = d.tokens[:d.store.tokenRetention]
	}
	return nil
}

func (d *Data) SessionID() string {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.sessionID
}

// Token returns the current (newest) token.
func (d *Data) Token() string {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	return d.tokens[0]
}

// SetToken rotates the token in place, leaving the sessionid and user
// binding untouched, and returns the new token.
func (d *Data) SetToken() (string, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if err := d.rotateLocked(); err != nil {
		return "", err
	}
	return d.tokens[0], nil
}

func (d *Data) User() *vault.User {
	return d.user
}
