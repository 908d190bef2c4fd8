package myq

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// request performs one authenticated call to a cloud endpoint.
//
// All non-login requests share a single-flight mutex so the engine
// never holds more than one cloud call open at a time; the vendor rate
// limits aggressively. Login traffic bypasses the mutex because a
// blocking reauthentication happens while the mutex is held.
//
// Token handling before the call:
//   - missing or expired token: blocking reauthentication
//   - stale token (past the refresh interval but not expired): the
//     call proceeds on the current token while a background refresh runs
//
// A 401 response triggers exactly one reauthentication and retry. A
// second 401 means the session cannot be repaired and the call fails
// with ErrAuthentication.
func (a *API) request(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	a.requestMu.Lock()
	defer a.requestMu.Unlock()

	switch a.classifyToken(time.Now()) {
	case tokenMissing, tokenExpired:
		if err := a.authenticate(ctx); err != nil {
			return nil, 0, err
		}
	case tokenStale:
		a.softRefresh(context.WithoutCancel(ctx))
	}

	data, status, err := a.doRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, status, err
	}

	if status == http.StatusUnauthorized {
		a.logInfo("cloud returned 401, reauthenticating", "endpoint", endpoint)
		// The cloud has rejected this token; nothing may present it
		// again, even if reauthentication fails.
		a.clearToken()
		if err := a.authenticate(ctx); err != nil {
			return nil, status, err
		}

		data, status, err = a.doRequest(ctx, method, endpoint, body)
		if err != nil {
			return nil, status, err
		}
		if status == http.StatusUnauthorized {
			return nil, status, fmt.Errorf("%w: still unauthorized after reauthentication", ErrAuthentication)
		}
	}

	if status < 200 || status >= 300 {
		return nil, status, fmt.Errorf("%w: %s %s returned %d", ErrRequest, method, endpoint, status)
	}

	return data, status, nil
}

// doRequest performs a single HTTP round trip with the current token.
func (a *API) doRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	req.Header.Set("User-Agent", oauthUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.currentToken(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s %s: %w", ErrRequest, method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading response: %w", ErrRequest, err)
	}

	return data, resp.StatusCode, nil
}
