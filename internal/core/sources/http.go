package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// httpError carries the response status so Classify can key off it.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.status, e.body)
}

// doJSON issues a GET to url and decodes the JSON body into out. On a
// non-2xx response it returns *httpError so Classify can key off the
// status code. On a 429 with an integer-seconds Retry-After header, that
// delay is returned as retryAfter, which the fetchers copy into
// errs.SourceError.RetryAfter for the retry layer.
func doJSON(ctx context.Context, client *http.Client, url string, out interface{}) (retryAfter time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("network: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return retryAfter, &httpError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	return 0, nil
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
