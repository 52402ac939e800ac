package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// statusFunc maps a non-2xx answer onto a classified error.
type statusFunc func(status int, body []byte) error

// jsonTransport posts JSON over a pooled fasthttp client. Transport failures
// and 5xx answers are retried with exponential backoff.
type jsonTransport struct {
	provider       string
	client         *fasthttp.Client
	defaultTimeout time.Duration
	retryMax       int
}

func newJSONTransport(provider string, timeout time.Duration) *jsonTransport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &jsonTransport{
		provider:       provider,
		client:         &fasthttp.Client{ReadTimeout: 30 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: timeout,
		retryMax:       2,
	}
}

func (t *jsonTransport) postJSON(ctx context.Context, uri string, header map[string]string, in, out any, onStatus statusFunc) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(uri)
	req.Header.SetContentType("application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "%s: marshal request", t.provider)
	}
	req.SetBody(payload)

	attempts := t.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return callError(ctx, t.provider, err)
		}
		if err := t.client.DoDeadline(req, resp, t.computeDeadline(ctx)); err != nil {
			lastErr = t.transportError(ctx, err)
			if attempt == attempts || !Retryable(lastErr) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = onStatus(status, resp.Body())
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(ErrTransport, "%s: decode response: %v", t.provider, err)
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.Wrapf(ErrTransport, "%s: no attempt made", t.provider)
	}
	return lastErr
}

func (t *jsonTransport) transportError(ctx context.Context, err error) error {
	if errors.Is(err, fasthttp.ErrTimeout) {
		return errors.Wrapf(ErrTimeout, "%s: %v", t.provider, err)
	}
	return callError(ctx, t.provider, err)
}

func (t *jsonTransport) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(t.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
