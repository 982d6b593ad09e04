package api

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"expenses/internal/log"
)

// HeaderRequestID carries a per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// loggingTransport tags each outgoing request with an id and logs the exchange.
type loggingTransport struct {
	next   http.RoundTripper
	logger *log.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := req.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(HeaderRequestID, requestID)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	elapsed := time.Since(start).Milliseconds()

	fields := log.NewFields().
		WithRequestID(requestID).
		WithHTTPRequest(req.Method, req.URL.Path, req.URL.RawQuery)

	if err != nil {
		fields = fields.WithHTTPResponse(0, elapsed).WithError(err).WithErrorType(log.ErrorTypeRemote)
		t.logger.WarnContext(req.Context(), "Backend request failed", fields.ToSlice()...)
		return nil, err
	}

	fields = fields.WithHTTPResponse(resp.StatusCode, elapsed)
	t.logger.DebugContext(req.Context(), "Backend request completed", fields.ToSlice()...)
	return resp, nil
}

// newPooledTransport returns a keep-alive transport tuned for a single backend host.
func newPooledTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}
