package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// LookupTimeout bounds a single offer-lookup request.
	LookupTimeout = 5 * time.Second
	// AnswerTimeout bounds a single answer submission.
	AnswerTimeout = 10 * time.Second
	// DefaultTimeout bounds code generation and deletion.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// Endpoints holds the absolute URL of each relay operation.
type Endpoints struct {
	Generate string
	Delete   string
	Offer    string
	Answer   string
}

// EndpointsFromBase derives the default endpoint set from a relay base URL.
func EndpointsFromBase(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		Generate: base + "/generateCode",
		Delete:   base + "/deleteCode",
		Offer:    base + "/getOffer",
		Answer:   base + "/submitAnswer",
	}
}

// Client talks to the signaling relay. It implements domain.Relay.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	log       zerolog.Logger
}

// NewClient creates a relay client. A nil httpClient uses http.DefaultClient.
func NewClient(endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoints: endpoints,
		http:      httpClient,
		log:       logging.Component("api"),
	}
}

// GenerateCode asks the relay to issue a new pairing code.
func (c *Client) GenerateCode(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	status, body, err := c.post(ctx, c.endpoints.Generate, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrCodeGenerationFailed, err)
	}
	if status < 200 || status > 299 {
		return "", fmt.Errorf("%w: http %d: %s", domain.ErrCodeGenerationFailed, status, truncate(body))
	}

	var resp domain.CodeEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %w", domain.ErrCodeGenerationFailed, err)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("%w: response has no code", domain.ErrCodeGenerationFailed)
	}
	return resp.Code, nil
}

// DeleteCode asks the relay to forget code.
func (c *Client) DeleteCode(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	status, body, err := c.post(ctx, c.endpoints.Delete, domain.CodeEnvelope{Code: code})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCodeDeletionFailed, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: http %d: %s", domain.ErrCodeDeletionFailed, status, truncate(body))
	}
	return nil
}

// LookupOffer fetches the offer parked under code. It returns
// domain.ErrOfferNotReady on 204.
func (c *Client) LookupOffer(ctx context.Context, code string) (*domain.SDPPayload, error) {
	ctx, cancel := context.WithTimeout(ctx, LookupTimeout)
	defer cancel()

	status, body, err := c.post(ctx, c.endpoints.Offer, domain.CodeEnvelope{Code: code})
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, domain.ErrOfferNotReady
	default:
		return nil, fmt.Errorf("http %d: %s", status, truncate(body))
	}

	var resp domain.OfferEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal offer: %w", err)
	}
	if resp.Offer.Empty() {
		return nil, fmt.Errorf("response has no offer")
	}
	return resp.Offer, nil
}

// SubmitAnswer posts the local answer for code.
func (c *Client) SubmitAnswer(ctx context.Context, code string, answer domain.SDPPayload) error {
	ctx, cancel := context.WithTimeout(ctx, AnswerTimeout)
	defer cancel()

	status, body, err := c.post(ctx, c.endpoints.Answer, domain.AnswerEnvelope{Code: code, Answer: answer})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAnswerSubmissionFailed, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: http %d: %s", domain.ErrAnswerSubmissionFailed, status, truncate(body))
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create http request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	httpReq.Header.Set("X-Request-ID", reqID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	c.log.Debug().Str("url", url).Str("request_id", reqID).Int("status", resp.StatusCode).Msg("relay call")
	return resp.StatusCode, respBody, nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
