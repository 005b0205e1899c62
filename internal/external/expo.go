package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"

	"dinerbell/internal/types"
)

// DefaultExpoURL is the Expo push send endpoint.
const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// gzipThreshold is the request size above which Expo bodies are compressed.
const gzipThreshold = 1024

// ExpoConfig configures an ExpoGateway.
type ExpoConfig struct {
	URL         string
	AccessToken string
	Logger      *slog.Logger
}

// ExpoGateway implements PushGateway against the Expo push API.
type ExpoGateway struct {
	base        *BaseClient
	url         string
	accessToken string
	logger      *slog.Logger
}

// NewExpoGateway creates an ExpoGateway sending through base.
func NewExpoGateway(base *BaseClient, cfg ExpoConfig) *ExpoGateway {
	url := cfg.URL
	if url == "" {
		url = DefaultExpoURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpoGateway{
		base:        base,
		url:         url,
		accessToken: cfg.AccessToken,
		logger:      logger,
	}
}

func (g *ExpoGateway) Name() string { return "expo" }

func (g *ExpoGateway) MaxBatchSize() int { return MaxExpoBatch }

// SendBatch posts msgs as one JSON array and returns the tickets in order.
func (g *ExpoGateway) SendBatch(ctx context.Context, msgs []PushMessage) ([]PushTicket, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > MaxExpoBatch {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("expo batch of %d exceeds limit %d", len(msgs), MaxExpoBatch), nil)
	}

	body, err := json.Marshal(toExpoMessages(msgs))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal expo payload", err)
	}

	compressed := false
	if len(body) > gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress expo payload", err)
		}
		if err := zw.Close(); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to compress expo payload", err)
		}
		body = buf.Bytes()
		compressed = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create expo request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if g.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+g.accessToken)
	}

	resp, err := g.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := readMaybeGzip(resp)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "failed to read expo response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := expoErrorMessage(respBody)
		g.logger.Warn("expo rejected batch", "status", resp.StatusCode, "error", msg, "batch_size", len(msgs))
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamPushGateway,
			fmt.Sprintf("expo returned %d: %s", resp.StatusCode, msg), nil,
			map[string]any{"status": resp.StatusCode})
	}

	tickets, err := parseExpoTickets(respBody)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamBadResponse, "failed to parse expo response", err)
	}
	return tickets, nil
}

// expoMessage adds the fields Expo names differently from PushMessage.
type expoMessage struct {
	PushMessage
	RichContent *expoRichContent `json:"richContent,omitempty"`
}

type expoRichContent struct {
	Image string `json:"image"`
}

func toExpoMessages(msgs []PushMessage) []expoMessage {
	out := make([]expoMessage, len(msgs))
	for i, m := range msgs {
		out[i] = expoMessage{PushMessage: m}
		if m.ImageURL != "" {
			out[i].RichContent = &expoRichContent{Image: m.ImageURL}
		}
	}
	return out
}

// readMaybeGzip reads the response body, inflating it when the server
// answered with an explicit gzip encoding.
func readMaybeGzip(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}
	return io.ReadAll(io.LimitReader(r, 4<<20))
}

type expoError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type expoEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []expoError     `json:"errors"`
}

// parseExpoTickets accepts a ticket array, a single ticket, or either one
// wrapped in {"data": ...}.
func parseExpoTickets(body []byte) ([]PushTicket, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty response body")
	}

	switch trimmed[0] {
	case '[':
		var tickets []PushTicket
		if err := json.Unmarshal(trimmed, &tickets); err != nil {
			return nil, err
		}
		return tickets, nil
	case '{':
		var env expoEnvelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, err
		}
		inner := bytes.TrimSpace(env.Data)
		if len(inner) > 0 && !bytes.Equal(inner, []byte("null")) {
			if inner[0] == '{' {
				var t PushTicket
				if err := json.Unmarshal(inner, &t); err != nil {
					return nil, err
				}
				return []PushTicket{t}, nil
			}
			var tickets []PushTicket
			if err := json.Unmarshal(inner, &tickets); err != nil {
				return nil, err
			}
			return tickets, nil
		}
		if len(env.Errors) > 0 {
			return nil, fmt.Errorf("%s: %s", env.Errors[0].Code, env.Errors[0].Message)
		}
		var t PushTicket
		if err := json.Unmarshal(trimmed, &t); err != nil {
			return nil, err
		}
		if t.Status == "" {
			return nil, fmt.Errorf("response has no tickets")
		}
		return []PushTicket{t}, nil
	}
	return nil, fmt.Errorf("unexpected response body %q", truncate(string(trimmed), 64))
}

func expoErrorMessage(body []byte) string {
	var env expoEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Errors) > 0 {
		return env.Errors[0].Message
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
