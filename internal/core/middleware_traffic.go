package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"dinerbell/internal/types"
)

const (
	defaultRateLimitWindow = time.Minute
	defaultRateLimitMax    = 120
	maxIdempotencyKeyLen   = 255
)

// RateLimit enforces a per-actor request budget per minute. Store errors fail
// open. X-RateLimit-* headers are set on every checked request and
// Retry-After on 429s.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		actor, ok := types.GetActor(r.Context())
		if !ok || actor.ID == "" {
			next.ServeHTTP(w, r)
			return
		}

		limit := s.rateLimitMax()
		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), "ratelimit:"+actor.ID, limit, defaultRateLimitWindow)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("actor_id", actor.ID),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("actor_id", actor.ID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, r, http.StatusTooManyRequests, types.ErrCodeRateLimit,
				"Rate limit exceeded. Please retry after the reset time.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMax() int {
	if s.Config != nil && s.Config.Redis.RateLimitPerMinute > 0 {
		return s.Config.Redis.RateLimitPerMinute
	}
	return defaultRateLimitMax
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// ResponseCapturer buffers status, headers and body until Flush so the
// idempotency middleware can store the response before sending it.
type ResponseCapturer struct {
	underlying http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	headers    http.Header
	written    bool
}

func newResponseCapturer(w http.ResponseWriter) *ResponseCapturer {
	return &ResponseCapturer{
		underlying: w,
		statusCode: http.StatusOK,
		headers:    make(http.Header),
	}
}

func (rc *ResponseCapturer) Header() http.Header {
	return rc.headers
}

func (rc *ResponseCapturer) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
}

func (rc *ResponseCapturer) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.body.Write(b)
}

// Flush writes the buffered response. Call it once.
func (rc *ResponseCapturer) Flush() {
	for key, values := range rc.headers {
		for _, v := range values {
			rc.underlying.Header().Add(key, v)
		}
	}
	rc.underlying.WriteHeader(rc.statusCode)
	_, _ = rc.underlying.Write(rc.body.Bytes())
}

func (rc *ResponseCapturer) Unwrap() http.ResponseWriter {
	return rc.underlying
}

func (rc *ResponseCapturer) StatusCode() int {
	return rc.statusCode
}

func (rc *ResponseCapturer) Body() []byte {
	return rc.body.Bytes()
}

// IdempotencyMiddleware makes POSTs carrying an Idempotency-Key execute at
// most once per actor and key:
//
//  1. completed key, same body: replay the stored response
//  2. completed key, other body: 409 conflict_idempotency_mismatch
//  3. key still processing: 409 conflict_request_in_flight
//  4. new key: run the handler and store anything below 500
//
// A 5xx response releases the key so the client may retry. Store errors
// fail open.
func (s *Server) IdempotencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IdempotencyStore == nil || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			writeError(w, r, http.StatusBadRequest, types.ErrCodeValidationInvalidParameter,
				"Idempotency-Key must not exceed 255 characters")
			return
		}

		scope := "anonymous"
		if actor, ok := types.GetActor(r.Context()); ok {
			scope = actor.ID
		}

		fingerprint, err := requestFingerprint(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, types.ErrCodeValidationInvalidJSON, "failed to read request body")
			return
		}

		ctx := r.Context()
		log := s.Logger.With(slog.String("idempotency_key", key), slog.String("actor_id", scope))

		record, err := s.IdempotencyStore.Get(ctx, scope, key)
		if err != nil {
			log.Error("idempotency store get error", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		if record != nil {
			s.answerExisting(w, r, log, record, fingerprint)
			return
		}

		claimed, err := s.IdempotencyStore.Begin(ctx, scope, key, fingerprint)
		if err != nil {
			log.Error("idempotency store begin error", slog.String("error", err.Error()))
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			writeError(w, r, http.StatusConflict, types.ErrCodeConflictInFlight,
				"A request with this idempotency key is currently being processed")
			return
		}

		capturer := newResponseCapturer(w)
		next.ServeHTTP(capturer, r)

		status := capturer.StatusCode()
		if status >= 500 {
			if err := s.IdempotencyStore.Abandon(ctx, scope, key); err != nil {
				log.Error("idempotency store abandon error", slog.String("error", err.Error()))
			}
		} else {
			rec := IdempotencyRecord{
				Status:       IdempotencyStatusCompleted,
				Fingerprint:  fingerprint,
				ResponseCode: status,
				ResponseBody: append([]byte(nil), capturer.Body()...),
			}
			if err := s.IdempotencyStore.Complete(ctx, scope, key, rec); err != nil {
				log.Error("idempotency store complete error", slog.String("error", err.Error()))
			}
		}

		capturer.Flush()
	})
}

func (s *Server) answerExisting(w http.ResponseWriter, r *http.Request, log *slog.Logger, record *IdempotencyRecord, fingerprint string) {
	if record.Fingerprint != fingerprint {
		log.Warn("idempotency key reused with a different request")
		writeError(w, r, http.StatusConflict, types.ErrCodeConflictIdempotency,
			"Idempotency-Key was already used with a different request")
		return
	}

	if record.Status == IdempotencyStatusProcessing {
		writeError(w, r, http.StatusConflict, types.ErrCodeConflictInFlight,
			"A request with this idempotency key is currently being processed")
		return
	}

	log.Info("idempotency key hit, replaying response", slog.Int("cached_status", record.ResponseCode))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(record.ResponseCode)
	_, _ = w.Write(record.ResponseBody)
}

// requestFingerprint hashes method, path and body, restoring the body for
// the handler.
func requestFingerprint(r *http.Request) (string, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
		if err != nil {
			return "", err
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil)), nil
}
