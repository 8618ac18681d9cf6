package sdk

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Webhook delivery headers set by the backend's dispatcher.
const (
	HeaderSignature       = "X-Ringside-Signature"
	HeaderEventType       = "X-Ringside-Event-Type"
	HeaderEventID         = "X-Ringside-Event-ID"
	HeaderDeliveryAttempt = "X-Ringside-Delivery-Attempt"
)

// WebhookMiddleware verifies the HMAC signature on incoming webhook
// deliveries before passing them to the handler. Unsigned or tampered
// payloads are refused with 401; the handler never sees them.
//
// Usage with standard net/http:
//
//	mux := http.NewServeMux()
//	mux.Handle("/hooks/ringside", sdk.WebhookMiddleware(secret, hookHandler))
//
// Usage with Gorilla Mux:
//
//	router.Use(sdk.WebhookMiddlewareFunc(secret))
func WebhookMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !VerifySignature(body, r.Header.Get(HeaderSignature), secret) {
			slog.Warn("rejected webhook delivery with bad signature",
				"event_type", r.Header.Get(HeaderEventType),
				"event_id", r.Header.Get(HeaderEventID))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// WebhookMiddlewareFunc returns Gorilla Mux compatible middleware.
func WebhookMiddlewareFunc(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return WebhookMiddleware(secret, next)
	}
}

// VerifySignature checks a delivery body against its signature header.
// The header format is "sha256=<hex hmac>"; comparison is constant
// time.
func VerifySignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(header, prefix)))
}

// WrapHTTPClient returns an http.Client that logs every backend call
// with its latency. Useful when diagnosing feed lag from the vendor
// side.
//
//	traced := sdk.WrapHTTPClient(http.DefaultClient)
//	client := sdk.NewClient(sdk.Config{...})
func WrapHTTPClient(wrapped *http.Client) *http.Client {
	return &http.Client{
		Timeout: wrapped.Timeout,
		Transport: &tracingTransport{
			wrapped: wrapped.Transport,
		},
	}
}

type tracingTransport struct {
	wrapped http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	transport := t.wrapped
	if transport == nil {
		transport = http.DefaultTransport
	}

	resp, err := transport.RoundTrip(req)

	if err == nil {
		slog.Info("[RINGSIDE]", "method", req.Method, "path", req.URL.Path, "status_code", resp.StatusCode, "sincestart", time.Since(start))
	}

	return resp, err
}
