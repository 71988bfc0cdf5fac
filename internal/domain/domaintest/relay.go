// Package domaintest provides in-memory fakes of the domain ports for tests.
package domaintest

import (
	"context"
	"sync"

	"pixelstreamer/native/internal/domain"
)

// Relay is a scriptable domain.Relay that records every call.
type Relay struct {
	mu sync.Mutex

	// Codes are handed out in order by GenerateCode; GenerateErr wins if set.
	Codes       []string
	GenerateErr error
	DeleteErr   error
	// Lookups are consumed in order by LookupOffer. When exhausted it reports
	// domain.ErrOfferNotReady.
	Lookups   []Lookup
	AnswerErr error

	Generated []string
	Deleted   []string
	Looked    []string
	Answers   []domain.AnswerEnvelope

	// BlockDelete, when non-nil, stalls DeleteCode until it is closed.
	BlockDelete chan struct{}
}

// Lookup is one scripted offer-lookup result.
type Lookup struct {
	Offer *domain.SDPPayload
	Err   error
}

func (r *Relay) GenerateCode(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.GenerateErr != nil {
		return "", r.GenerateErr
	}
	if len(r.Codes) == 0 {
		return "", nil
	}
	code := r.Codes[0]
	r.Codes = r.Codes[1:]
	r.Generated = append(r.Generated, code)
	return code, nil
}

func (r *Relay) DeleteCode(ctx context.Context, code string) error {
	r.mu.Lock()
	block := r.BlockDelete
	r.Deleted = append(r.Deleted, code)
	err := r.DeleteErr
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *Relay) LookupOffer(ctx context.Context, code string) (*domain.SDPPayload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Looked = append(r.Looked, code)
	if len(r.Lookups) == 0 {
		return nil, domain.ErrOfferNotReady
	}
	l := r.Lookups[0]
	r.Lookups = r.Lookups[1:]
	return l.Offer, l.Err
}

func (r *Relay) SubmitAnswer(ctx context.Context, code string, answer domain.SDPPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Answers = append(r.Answers, domain.AnswerEnvelope{Code: code, Answer: answer})
	return r.AnswerErr
}

// DeletedCodes returns a copy of the codes passed to DeleteCode.
func (r *Relay) DeletedCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Deleted...)
}

// LookupCount returns how many offer lookups were issued.
func (r *Relay) LookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Looked)
}

// SubmittedAnswers returns a copy of the submitted answers.
func (r *Relay) SubmittedAnswers() []domain.AnswerEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.AnswerEnvelope(nil), r.Answers...)
}
