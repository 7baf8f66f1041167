package esplora

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/tdex-network/chainscan/pkg/explorer"
)

type httpResponse struct {
	status int
	body   string
}

// statusError carries a non-2xx HTTP response through the circuit breaker.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

func (e *esplora) get(ctx context.Context, op, url string) (string, error) {
	return e.request(ctx, op, "GET", url, "", nil, false)
}

func (e *esplora) getTolerateLag(ctx context.Context, op, url string) (string, error) {
	return e.request(ctx, op, "GET", url, "", nil, true)
}

func (e *esplora) post(
	ctx context.Context, op, url, body string, headers map[string]string,
) (string, error) {
	return e.request(ctx, op, "POST", url, body, headers, false)
}

// request performs an HTTP call against the explorer honoring the shared
// admission semaphore and the request rate limiter. Transient failures
// (network errors, 5xx) are retried with exponential backoff up to the
// configured attempts, 4xx responses fail immediately. When tolerateLag is
// set, a 404 is first retried on its own short budget before being treated
// as an indexing lag failure.
func (e *esplora) request(
	ctx context.Context,
	op, method, url, body string,
	headers map[string]string,
	tolerateLag bool,
) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.sem.Release(1)

	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	backoff := minRetryBackoff
	lagAttempts := 0
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := e.doRequest(ctx, method, url, body, headers)
		if err == nil {
			return res.body, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if sErr, ok := err.(*statusError); ok && sErr.status >= 400 && sErr.status < 500 {
			if tolerateLag && sErr.status == http.StatusNotFound {
				if lagAttempts < e.lagRetries {
					lagAttempts++
					attempt--
					if err := sleepWithContext(ctx, e.lagInterval); err != nil {
						return "", err
					}
					continue
				}
				return "", newError(explorer.ErrKindIndexingLag, op, err)
			}
			return "", newError(explorer.ErrKindPermanent, op, err)
		}

		lastErr = err
		if attempt == e.maxRetries-1 {
			break
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return "", err
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	return "", newError(explorer.ErrKindTransient, op, lastErr)
}

func (e *esplora) doRequest(
	ctx context.Context, method, url, body string, headers map[string]string,
) (*httpResponse, error) {
	res, err := e.cb.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
		defer cancel()

		var bodyReader *strings.Reader
		if len(body) > 0 {
			bodyReader = strings.NewReader(body)
		} else {
			bodyReader = strings.NewReader("")
		}

		req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
		if err != nil {
			return nil, err
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		rs, err := e.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer rs.Body.Close()

		bodyBytes, err := ioutil.ReadAll(rs.Body)
		if err != nil {
			return nil, err
		}

		if rs.StatusCode != http.StatusOK {
			return nil, &statusError{status: rs.StatusCode, body: string(bodyBytes)}
		}
		return &httpResponse{status: rs.StatusCode, body: string(bodyBytes)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*httpResponse), nil
}

func newError(kind explorer.ErrorKind, op string, err error) error {
	return &explorer.Error{Kind: kind, Op: op, Err: err}
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
