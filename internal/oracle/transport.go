package oracle

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const retryBaseDelay = 200 * time.Millisecond

// retryTransport retries transport errors, 429 and 5xx responses. The request
// context bounds the whole sequence, so the caller's timeout still holds.
type retryTransport struct {
	base    http.RoundTripper
	retries int
}

func newRetryTransport(base http.RoundTripper, retries int) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if retries < 0 {
		retries = 0
	}
	return &retryTransport{base: base, retries: retries}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil && req.GetBody == nil && t.retries > 0 {
		// Body cannot be replayed.
		return t.base.RoundTrip(req)
	}

	maxTries := t.retries + 1
	attempt := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay

	return backoff.Retry(req.Context(), func() (*http.Response, error) {
		attempt++
		r := req.Clone(req.Context())
		if attempt > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
			}
			r.Body = body
		}

		resp, err := t.base.RoundTrip(r)
		if err != nil {
			if req.Context().Err() != nil || attempt >= maxTries {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if !retryableStatus(resp.StatusCode) || attempt >= maxTries {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("oracle responded %d", resp.StatusCode)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Debug("oracle request failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		}),
	)
}
