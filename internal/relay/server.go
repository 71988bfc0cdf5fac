package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"pixelstreamer/native/internal/domain"
	"pixelstreamer/native/internal/logging"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxBody = 64 << 10

	// DefaultCodeTTL drops codes nobody deleted.
	DefaultCodeTTL = 30 * time.Minute
)

// Server serves the relay's HTTP contract from a Store.
type Server struct {
	store   *Store
	limiter *RateLimiter
	log     zerolog.Logger
}

// NewServer creates a relay server. A nil limiter disables rate limiting.
func NewServer(store *Store, limiter *RateLimiter) *Server {
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}
	return &Server{
		store:   store,
		limiter: limiter,
		log:     logging.Component("relay"),
	}
}

// Handler returns the relay's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/generateCode", s.handle(s.generateCode))
	mux.HandleFunc("/deleteCode", s.handle(s.deleteCode))
	mux.HandleFunc("/getOffer", s.handle(s.getOffer))
	mux.HandleFunc("/submitAnswer", s.handle(s.submitAnswer))
	mux.HandleFunc("/submitOffer", s.handle(s.submitOffer))
	mux.HandleFunc("/fetchAnswer", s.handle(s.fetchAnswer))
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
				return
			case <-ticker.C:
				s.limiter.Prune(10 * time.Minute)
			}
		}
	}()

	s.log.Info().Str("addr", addr).Msg("relay listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// httpError carries a status code out of a handler.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func fail(status int, msg string) error { return &httpError{status: status, msg: msg} }

type handlerFunc func(r *http.Request) (status int, body any, err error)

func (s *Server) handle(fn handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		log := s.log.With().Str("path", r.URL.Path).Str("request", reqID).Logger()

		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method Not Allowed"})
			return
		}
		if !s.limiter.Allow(clientIP(r)) {
			log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Too Many Requests"})
			return
		}

		status, body, err := fn(r)
		if err != nil {
			var he *httpError
			if !errors.As(err, &he) {
				he = &httpError{status: http.StatusInternalServerError, msg: err.Error()}
			}
			log.Debug().Int("status", he.status).Str("error", he.msg).Msg("request failed")
			writeJSON(w, he.status, map[string]string{"error": he.msg})
			return
		}
		log.Debug().Int("status", status).Msg("request")
		if body == nil {
			w.WriteHeader(status)
			return
		}
		writeJSON(w, status, body)
	}
}

func (s *Server) generateCode(r *http.Request) (int, any, error) {
	code, err := s.store.Generate()
	if err != nil {
		return 0, nil, err
	}
	s.log.Info().Str("code", code).Msg("code issued")
	return http.StatusOK, domain.CodeEnvelope{Code: code}, nil
}

func (s *Server) deleteCode(r *http.Request) (int, any, error) {
	var req domain.CodeEnvelope
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	s.store.Delete(req.Code)
	s.log.Info().Str("code", req.Code).Msg("code deleted")
	return http.StatusOK, struct{}{}, nil
}

func (s *Server) getOffer(r *http.Request) (int, any, error) {
	var req domain.CodeEnvelope
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	offer, err := s.store.Offer(req.Code)
	if err != nil {
		return 0, nil, storeError(err)
	}
	if offer == nil {
		return http.StatusNoContent, nil, nil
	}
	return http.StatusOK, domain.OfferEnvelope{Offer: offer}, nil
}

func (s *Server) submitAnswer(r *http.Request) (int, any, error) {
	var req domain.AnswerEnvelope
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Answer.SDP == "" {
		return 0, nil, fail(http.StatusBadRequest, "answer is required")
	}
	if err := s.store.SetAnswer(req.Code, req.Answer); err != nil {
		return 0, nil, storeError(err)
	}
	s.log.Info().Str("code", req.Code).Msg("answer stored")
	return http.StatusOK, struct{}{}, nil
}

type offerRequest struct {
	Code  string             `json:"code"`
	Offer *domain.SDPPayload `json:"offer"`
}

// submitOffer is called by the viewer to park its offer under a code.
func (s *Server) submitOffer(r *http.Request) (int, any, error) {
	var req offerRequest
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	if req.Offer.Empty() {
		return 0, nil, fail(http.StatusBadRequest, "offer is required")
	}
	if err := s.store.SetOffer(req.Code, *req.Offer); err != nil {
		return 0, nil, storeError(err)
	}
	s.log.Info().Str("code", req.Code).Msg("offer stored")
	return http.StatusOK, struct{}{}, nil
}

type answerResponse struct {
	Answer *domain.SDPPayload `json:"answer"`
}

// fetchAnswer is polled by the viewer until the streamer has answered.
func (s *Server) fetchAnswer(r *http.Request) (int, any, error) {
	var req domain.CodeEnvelope
	if err := decode(r, &req); err != nil {
		return 0, nil, err
	}
	answer, err := s.store.Answer(req.Code)
	if err != nil {
		return 0, nil, storeError(err)
	}
	if answer == nil {
		return http.StatusNoContent, nil, nil
	}
	return http.StatusOK, answerResponse{Answer: answer}, nil
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fail(http.StatusBadRequest, "read body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fail(http.StatusBadRequest, "invalid JSON")
	}
	return nil
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownCode):
		return fail(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyTaken):
		return fail(http.StatusConflict, err.Error())
	default:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
