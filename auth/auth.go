// Package auth logs test users in through the storefront's HTTP login endpoint and transplants
// the resulting session cookie into a browser session, so that scenarios which only need an
// authenticated user do not have to drive the login form.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultSessionCookie is the storefront's session cookie name.
	DefaultSessionCookie = "OCSESSID"

	// DefaultLoginPageMarker appears in a login response body only if the login was rejected
	// and the login page was shown again.
	DefaultLoginPageMarker = "account/login"

	DefaultVerifyTimeout = 10 * time.Second
)

var (
	// ErrAlreadyAuthenticated is returned by LoginViaAPI if the Bridge is already logged in.
	ErrAlreadyAuthenticated = errors.New("already authenticated; log out first")

	// ErrAuthentication is matched by *AuthenticationError.
	ErrAuthentication = errors.New("authentication failed")
)

// AuthenticationError means the storefront did not accept a login.
type AuthenticationError struct {
	Email  string
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrAuthentication, e.Email, e.Reason)
}

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthentication }

// Credential is a test user account.
type Credential struct {
	Email    string
	Password string
}

// String returns only the email, so that credentials can be logged.
func (c Credential) String() string { return c.Email }

// Routes are the storefront paths the Bridge requests, relative to the base URL.
type Routes struct {
	Login      string
	Logout     string
	Home       string
	RemoveCart string
}

var DefaultRoutes = Routes{
	Login:      "/index.php?route=account/login",
	Logout:     "/index.php?route=account/logout",
	Home:       "/index.php?route=common/home",
	RemoveCart: "/index.php?route=checkout/cart/remove",
}

// Doer sends HTTP requests. *http.Client implements it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns a client with its own cookie jar that returns redirect responses
// instead of following them.
func NewHTTPClient(timeout time.Duration) *http.Client {
	// cookiejar.New cannot fail.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Jar:     jar,
		Timeout: timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// State is whether a Bridge is logged in, and with which session token.
type State struct {
	token string
}

// Anonymous is the state before login and after logout.
var Anonymous = State{}

// Authenticated is the state after a successful login.
func Authenticated(token string) State { return State{token: token} }

func (s State) IsAuthenticated() bool { return s.token != "" }

// Token returns the session token, or "" if anonymous.
func (s State) Token() string { return s.token }

func (s State) String() string {
	if s.token == "" {
		return "anonymous"
	}
	return "authenticated"
}
