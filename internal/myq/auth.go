package myq

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SetUsername replaces the account username and clears the invalid
// credentials latch so the next Authenticate attempt runs.
func (a *API) SetUsername(username string) {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	a.username = username
	a.invalidCreds = false
}

// SetPassword replaces the account password and clears the invalid
// credentials latch.
func (a *API) SetPassword(password string) {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	a.password = password
	a.invalidCreds = false
}

// Authenticate obtains a fresh bearer token.
//
// With wait true the call blocks until login completes or fails. With
// wait false the login runs in the background and Authenticate returns
// immediately; a failure surfaces on the next request.
//
// Once the cloud rejects the credentials, every call fails fast with
// ErrInvalidCredentials until SetUsername or SetPassword clears the
// latch. Retrying a rejected password only triggers account lockout on
// the vendor side.
func (a *API) Authenticate(ctx context.Context, wait bool) error {
	a.authMu.Lock()
	if a.invalidCreds {
		a.authMu.Unlock()
		return ErrInvalidCredentials
	}
	a.authMu.Unlock()

	if wait {
		return a.authenticate(ctx)
	}

	a.authWG.Add(1)
	go func() {
		defer a.authWG.Done()
		if err := a.authenticate(ctx); err != nil {
			a.logError("background authentication failed", "error", err)
		}
	}()
	return nil
}

// authenticate runs the OAuth flow and installs the resulting token.
// Serialized by loginMu so concurrent triggers (blocking reauth and a
// background refresh) cannot race the token slot.
func (a *API) authenticate(ctx context.Context) error {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()

	// A login that finished while this caller waited on loginMu already
	// installed a usable token.
	if a.classifyToken(time.Now()) == tokenFresh {
		return nil
	}

	a.authMu.Lock()
	if a.invalidCreds {
		a.authMu.Unlock()
		return ErrInvalidCredentials
	}
	username, password := a.username, a.password
	a.authMu.Unlock()

	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password required", ErrAuthentication)
	}

	login := a.loginFn
	if login == nil {
		login = func(ctx context.Context) (oauthToken, error) {
			return performOAuth(ctx, username, password)
		}
	}

	token, err := login(ctx)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			a.authMu.Lock()
			a.invalidCreds = true
			a.authMu.Unlock()
		}
		return err
	}

	now := time.Now()
	a.authMu.Lock()
	a.token = token.TokenType + " " + token.AccessToken
	a.tokenExpiry = tokenExpiry(now, token.ExpiresIn)
	a.lastRefresh = now
	a.authMu.Unlock()

	a.logInfo("authenticated with cloud", "token_expiry", a.TokenExpiry())
	return nil
}

// softRefresh kicks a background token renewal if one is not already
// running. Callers keep using the current token meanwhile.
func (a *API) softRefresh(ctx context.Context) {
	a.authMu.Lock()
	if a.refreshing || a.invalidCreds {
		a.authMu.Unlock()
		return
	}
	a.refreshing = true
	a.authMu.Unlock()

	a.authWG.Add(1)
	go func() {
		defer a.authWG.Done()
		defer func() {
			a.authMu.Lock()
			a.refreshing = false
			a.authMu.Unlock()
		}()

		if err := a.authenticate(ctx); err != nil {
			a.logWarn("token refresh failed, keeping current token", "error", err)
		}
	}()
}

// currentToken returns the Authorization header value, or "" when no
// token is held.
func (a *API) currentToken() string {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	return a.token
}

// clearToken drops the held token so no further request can present
// it. Used when the cloud has already rejected the token.
func (a *API) clearToken() {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	a.token = ""
	a.tokenExpiry = time.Time{}
}

// TokenExpiry returns when the current token is considered expired.
func (a *API) TokenExpiry() time.Time {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	return a.tokenExpiry
}

// CredentialsInvalid reports whether the invalid credentials latch is
// set.
func (a *API) CredentialsInvalid() bool {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	return a.invalidCreds
}

// tokenState classifies the held token for the request path.
type tokenState int

const (
	tokenMissing tokenState = iota
	tokenExpired
	tokenStale
	tokenFresh
)

func (a *API) classifyToken(now time.Time) tokenState {
	a.authMu.Lock()
	defer a.authMu.Unlock()

	switch {
	case a.token == "":
		return tokenMissing
	case !now.Before(a.tokenExpiry):
		// A refresh already in flight means the cached token still
		// serves requests until the replacement lands.
		if a.refreshing {
			return tokenStale
		}
		return tokenExpired
	case now.Sub(a.lastRefresh) >= DefaultTokenRefresh:
		return tokenStale
	default:
		return tokenFresh
	}
}
