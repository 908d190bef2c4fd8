package myq

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// oauthToken is the result of a completed authorization code exchange.
type oauthToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// loginForm holds the fields scanned out of the hosted login page.
type loginForm struct {
	action string
	values url.Values
}

// performOAuth runs the full PKCE authorization code flow against the
// partner identity service:
//
//  1. Fetch the authorize page with a fresh code challenge.
//  2. Scan the returned HTML for the login form and its hidden fields.
//  3. Submit credentials; fewer than two session cookies back means
//     the credentials were rejected.
//  4. Chase redirects by hand until the app-scheme redirect carrying
//     the authorization code appears.
//  5. Exchange the code for a bearer token.
func performOAuth(ctx context.Context, username, password string) (oauthToken, error) {
	pkce, err := newPKCEPair()
	if err != nil {
		return oauthToken{}, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return oauthToken{}, fmt.Errorf("%w: cookie jar: %w", ErrAuthentication, err)
	}

	// Redirects are followed manually so the app-scheme redirect can be
	// intercepted before the client tries to fetch it.
	client := &http.Client{
		Jar:     jar,
		Timeout: defaultRequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	pageURL, body, err := fetchAuthorizePage(ctx, client, pkce)
	if err != nil {
		return oauthToken{}, err
	}

	form, err := scanLoginForm(body, username, password)
	if err != nil {
		return oauthToken{}, err
	}

	redirect, err := submitLoginForm(ctx, client, pageURL, form)
	if err != nil {
		return oauthToken{}, err
	}

	code, scope, err := chaseRedirects(ctx, client, redirect)
	if err != nil {
		return oauthToken{}, err
	}

	return exchangeCode(ctx, client, code, scope, pkce)
}

// fetchAuthorizePage requests the authorize endpoint and follows plain
// HTTP redirects until the login page renders. Returns the final page
// URL (needed to resolve the form action) and the page body.
func fetchAuthorizePage(ctx context.Context, client *http.Client, pkce pkcePair) (*url.URL, []byte, error) {
	query := url.Values{
		"client_id":             {oauthClientID},
		"code_challenge":        {pkce.challenge},
		"code_challenge_method": {"S256"},
		"redirect_uri":          {oauthRedirectURI},
		"response_type":         {"code"},
		"scope":                 {oauthScope},
	}

	target := oauthAuthorizeURL + "?" + query.Encode()
	for range [10]struct{}{} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		req.Header.Set("User-Agent", oauthUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: authorize page: %w", ErrAuthentication, err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, nil, fmt.Errorf("%w: redirect without location", ErrAuthentication)
			}
			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: bad redirect %q: %w", ErrAuthentication, loc, err)
			}
			target = next.String()
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading login page: %w", ErrAuthentication, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("%w: login page returned %d", ErrAuthentication, resp.StatusCode)
		}
		return resp.Request.URL, body, nil
	}

	return nil, nil, fmt.Errorf("%w: too many authorize redirects", ErrAuthentication)
}

// scanLoginForm walks the login page HTML and builds the form
// submission from the first form that carries an email field, a
// password field, and a submit control. The login page ships decoy
// forms (search, newsletter) ahead of the real one, so inputs are
// never merged across forms. Hidden inputs (anti-forgery tokens and
// return URLs) are carried through untouched; the email and password
// fields are matched by name substring because the identity service
// renames them between deployments.
func scanLoginForm(page []byte, username, password string) (loginForm, error) {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return loginForm{}, fmt.Errorf("%w: parsing login page: %w", ErrAuthentication, err)
	}

	var form loginForm
	var found bool

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "form" {
			if f, ok := buildLoginForm(n, username, password); ok {
				form = f
				found = true
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if !found {
		return loginForm{}, fmt.Errorf("%w: login form not found", ErrAuthentication)
	}
	return form, nil
}

// buildLoginForm collects the inputs of a single form node. The form
// qualifies only when it has all three of an email field, a password
// field, and a submit control.
func buildLoginForm(formNode *html.Node, username, password string) (loginForm, bool) {
	form := loginForm{
		action: attrValue(formNode, "action"),
		values: url.Values{},
	}
	var emailSet, passwordSet, submitSet bool

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "input":
				if strings.EqualFold(attrValue(n, "type"), "submit") {
					submitSet = true
				}
				name := attrValue(n, "name")
				if name != "" {
					lower := strings.ToLower(name)
					switch {
					case strings.Contains(lower, "email"), strings.Contains(lower, "username"):
						form.values.Set(name, username)
						emailSet = true
					case strings.Contains(lower, "password"):
						form.values.Set(name, password)
						passwordSet = true
					default:
						form.values.Set(name, attrValue(n, "value"))
					}
				}
			case "button":
				// A button defaults to type=submit inside a form.
				if kind := attrValue(n, "type"); kind == "" || strings.EqualFold(kind, "submit") {
					submitSet = true
					if name := attrValue(n, "name"); name != "" {
						form.values.Set(name, attrValue(n, "value"))
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(formNode)

	return form, emailSet && passwordSet && submitSet
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// submitLoginForm posts the credentials. The identity service answers a
// successful login with a redirect plus at least two session cookies;
// fewer cookies means the credentials were rejected even though the
// response status looks routine.
func submitLoginForm(ctx context.Context, client *http.Client, pageURL *url.URL, form loginForm) (*url.URL, error) {
	actionURL, err := pageURL.Parse(form.action)
	if err != nil {
		return nil, fmt.Errorf("%w: bad form action %q: %w", ErrAuthentication, form.action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, actionURL.String(), strings.NewReader(form.values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", oauthUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: submitting login: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if len(resp.Cookies()) < 2 {
		return nil, ErrInvalidCredentials
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, fmt.Errorf("%w: no redirect after login", ErrAuthentication)
	}
	next, err := resp.Request.URL.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("%w: bad post-login redirect %q: %w", ErrAuthentication, loc, err)
	}
	return next, nil
}

// chaseRedirects follows the post-login redirect chain until the
// app-scheme callback appears, then extracts the authorization code
// and granted scope from its query string.
func chaseRedirects(ctx context.Context, client *http.Client, next *url.URL) (code string, scope string, err error) {
	for range [10]struct{}{} {
		if strings.HasPrefix(next.String(), oauthRedirectURI) {
			q := next.Query()
			code = q.Get("code")
			scope = q.Get("scope")
			if code == "" {
				return "", "", fmt.Errorf("%w: callback missing code", ErrAuthentication)
			}
			if scope == "" {
				scope = oauthScope
			}
			return code, scope, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next.String(), nil)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		req.Header.Set("User-Agent", oauthUserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return "", "", fmt.Errorf("%w: following login redirect: %w", ErrAuthentication, err)
		}
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
		resp.Body.Close()

		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", "", fmt.Errorf("%w: redirect chain ended without callback", ErrAuthentication)
		}
		next, err = resp.Request.URL.Parse(loc)
		if err != nil {
			return "", "", fmt.Errorf("%w: bad redirect %q: %w", ErrAuthentication, loc, err)
		}
	}

	return "", "", fmt.Errorf("%w: too many login redirects", ErrAuthentication)
}

// exchangeCode trades the authorization code for a bearer token.
func exchangeCode(ctx context.Context, client *http.Client, code, scope string, pkce pkcePair) (oauthToken, error) {
	form := url.Values{
		"client_id":     {oauthClientID},
		"client_secret": {oauthClientSecret},
		"code":          {code},
		"code_verifier": {pkce.verifier},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {oauthRedirectURI},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return oauthToken{}, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", oauthUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return oauthToken{}, fmt.Errorf("%w: token exchange: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return oauthToken{}, fmt.Errorf("%w: token endpoint returned %d", ErrAuthentication, resp.StatusCode)
	}

	var token oauthToken
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return oauthToken{}, fmt.Errorf("%w: decoding token response: %w", ErrAuthentication, err)
	}
	if token.AccessToken == "" {
		return oauthToken{}, fmt.Errorf("%w: token response missing access_token", ErrAuthentication)
	}
	return token, nil
}

// tokenExpiry derives the local expiry for a freshly issued token.
// The advertised lifetime is floored at twice the refresh interval so
// a short-lived token cannot trigger a refresh storm, and the token is
// treated as expired halfway through that lifetime.
func tokenExpiry(issued time.Time, expiresIn int) time.Time {
	lifetime := time.Duration(expiresIn) * time.Second
	if min := 2 * DefaultTokenRefresh; lifetime < min {
		lifetime = min
	}
	return issued.Add(lifetime / 2)
}
