package llm

import (
	"net/http"
	"strconv"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// classifyStatus maps a non-2xx vendor status to the error taxonomy.
// 429 becomes RateLimitError, everything else ProviderError. Callers pass
// the response so Retry-After can be honored when present.
func classifyStatus(provider string, resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return &RateLimitError{Provider: provider, RetryAfter: retryAfter}
	}

	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
