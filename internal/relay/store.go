// Package relay is an in-memory signaling relay for local development and
// tests. It speaks the same HTTP contract as the hosted relay.
package relay

import (
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"pixelstreamer/native/internal/domain"
)

const (
	codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength  = 5

	maxCodeDraws = 64
)

// Code statuses.
const (
	StatusWaiting  = "waiting"
	StatusOffered  = "offered"
	StatusAnswered = "answered"
)

var (
	ErrUnknownCode  = errors.New("unknown code")
	ErrCodeSpace    = errors.New("no free code found")
	ErrAlreadyTaken = errors.New("code already has an offer")
)

type entry struct {
	status    string
	createdAt time.Time
	offer     *domain.SDPPayload
	answer    *domain.SDPPayload
}

// Store keeps live codes and the descriptions parked under them.
type Store struct {
	mu    sync.Mutex
	codes map[string]*entry
	ttl   time.Duration
	now   func() time.Time
	draw  func(n int) int
}

// NewStore creates a store whose codes expire after ttl (zero keeps them
// until deleted).
func NewStore(ttl time.Duration) *Store {
	return &Store{
		codes: make(map[string]*entry),
		ttl:   ttl,
		now:   time.Now,
		draw:  rand.IntN,
	}
}

// Generate issues a code not currently in use, with status "waiting".
func (s *Store) Generate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	var b strings.Builder
	for i := 0; i < maxCodeDraws; i++ {
		b.Reset()
		for j := 0; j < codeLength; j++ {
			b.WriteByte(codeCharset[s.draw(len(codeCharset))])
		}
		code := b.String()
		if _, taken := s.codes[code]; taken {
			continue
		}
		s.codes[code] = &entry{status: StatusWaiting, createdAt: s.now()}
		return code, nil
	}
	return "", ErrCodeSpace
}

// Delete drops code. Deleting an unknown code is not an error.
func (s *Store) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, strings.ToUpper(code))
}

// Status returns the status of code.
func (s *Store) Status(code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(code)
	if err != nil {
		return "", err
	}
	return e.status, nil
}

// SetOffer parks the viewer's offer under code.
func (s *Store) SetOffer(code string, offer domain.SDPPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(code)
	if err != nil {
		return err
	}
	if e.offer != nil {
		return ErrAlreadyTaken
	}
	e.offer = &offer
	e.status = StatusOffered
	return nil
}

// Offer returns the parked offer, or nil while none has arrived.
func (s *Store) Offer(code string) (*domain.SDPPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(code)
	if err != nil {
		return nil, err
	}
	return e.offer, nil
}

// SetAnswer stores the streamer's answer under code.
func (s *Store) SetAnswer(code string, answer domain.SDPPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(code)
	if err != nil {
		return err
	}
	e.answer = &answer
	e.status = StatusAnswered
	return nil
}

// Answer returns the stored answer, or nil while none has arrived.
func (s *Store) Answer(code string) (*domain.SDPPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.lookupLocked(code)
	if err != nil {
		return nil, err
	}
	return e.answer, nil
}

// Len returns the number of live codes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()
	return len(s.codes)
}

func (s *Store) lookupLocked(code string) (*entry, error) {
	s.expireLocked()
	e, ok := s.codes[strings.ToUpper(code)]
	if !ok {
		return nil, ErrUnknownCode
	}
	return e, nil
}

func (s *Store) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for code, e := range s.codes {
		if e.createdAt.Before(cutoff) {
			delete(s.codes, code)
		}
	}
}
