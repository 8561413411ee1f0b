package auth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

// maxBodySize bounds how much of a login response is inspected.
const maxBodySize = 1 << 20

// Config describes the storefront a Bridge logs in to.
type Config struct {
	BaseURL         string
	Routes          Routes
	SessionCookie   string
	LoginPageMarker string
	VerifyTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	c.Routes.Login = orDefault(c.Routes.Login, DefaultRoutes.Login)
	c.Routes.Logout = orDefault(c.Routes.Logout, DefaultRoutes.Logout)
	c.Routes.Home = orDefault(c.Routes.Home, DefaultRoutes.Home)
	c.Routes.RemoveCart = orDefault(c.Routes.RemoveCart, DefaultRoutes.RemoveCart)
	if c.SessionCookie == "" {
		c.SessionCookie = DefaultSessionCookie
	}
	if c.LoginPageMarker == "" {
		c.LoginPageMarker = DefaultLoginPageMarker
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	return c
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}

// Bridge holds the authentication state of one execution context, and moves it between the
// context's HTTP client and its browser session.
//
// The browser session is looked up from the Manager on each use, so a Bridge whose session
// has been destroyed fails with a *browser.NoActiveSessionError.
type Bridge struct {
	config    Config
	client    Doer
	browsers  *browser.Manager
	owner     string
	waitOpts  []wait.Option
	loggers   ldlog.Loggers
	metrics   *telemetry.Metrics
	state     State
	stateLock sync.Mutex
}

type Option func(*Bridge)

func WithLoggers(loggers ldlog.Loggers) Option {
	return func(b *Bridge) { b.loggers = loggers }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(b *Bridge) { b.metrics = metrics }
}

// WithWaitOptions sets the options for the waiters used on the browser session.
func WithWaitOptions(opts ...wait.Option) Option {
	return func(b *Bridge) { b.waitOpts = opts }
}

// NewBridge creates an anonymous Bridge for the browser session of owner.
func NewBridge(config Config, client Doer, browsers *browser.Manager, owner string, opts ...Option) *Bridge {
	b := &Bridge{
		config:   config.withDefaults(),
		client:   client,
		browsers: browsers,
		owner:    owner,
		loggers:  ldlog.NewDisabledLoggers(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// State returns the current authentication state.
func (b *Bridge) State() State {
	b.stateLock.Lock()
	defer b.stateLock.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.stateLock.Lock()
	b.state = s
	b.stateLock.Unlock()
}

func (b *Bridge) url(route string) string {
	return b.config.BaseURL + route
}

// LoginViaAPI posts cred to the storefront's login form and returns the session token from the
// response. It is tried once; a rejected login is an *AuthenticationError, anything else that
// goes wrong with the request is returned wrapped.
func (b *Bridge) LoginViaAPI(ctx context.Context, cred Credential) (string, error) {
	if b.State().IsAuthenticated() {
		return "", ErrAlreadyAuthenticated
	}

	form := url.Values{"email": {cred.Email}, "password": {cred.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(b.config.Routes.Login), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		b.metrics.APILogin(false)
		return "", fmt.Errorf("login request for %s failed: %w", cred.Email, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		b.metrics.APILogin(false)
		return "", fmt.Errorf("could not read login response for %s: %w", cred.Email, err)
	}

	fail := func(reason string) (string, error) {
		b.metrics.APILogin(false)
		b.loggers.Errorf("Login via API failed for %s: %s", cred.Email, reason)
		return "", &AuthenticationError{Email: cred.Email, Reason: reason}
	}
	if resp.StatusCode >= 400 {
		return fail(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
	if bytes.Contains(body, []byte(b.config.LoginPageMarker)) {
		reason := "login page was shown again"
		if alert := alertText(body); alert != "" {
			reason += ": " + alert
		}
		return fail(reason)
	}
	var token string
	for _, c := range resp.Cookies() {
		if c.Name == b.config.SessionCookie && c.Value != "" {
			token = c.Value
		}
	}
	if token == "" {
		return fail(fmt.Sprintf("no %s cookie in response", b.config.SessionCookie))
	}

	b.setState(Authenticated(token))
	b.metrics.APILogin(true)
	b.loggers.Infof("Logged in %s via API", cred.Email)
	return token, nil
}

// alertText returns the text of the first error alert on an HTML page.
func alertText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	alert := doc.Find(".alert-danger, .text-danger").First()
	alert.Find("button").Remove()
	return strings.Join(strings.Fields(alert.Text()), " ")
}

func (b *Bridge) session() (browser.Session, *wait.Waiter, error) {
	session, err := b.browsers.Current(b.owner)
	if err != nil {
		return nil, nil, err
	}
	return session, wait.New(session, b.waitOpts...), nil
}

// InjectIntoBrowser opens targetURL, sets the session cookie for its host, and reloads so that
// the page is rendered for the logged-in user.
func (b *Bridge) InjectIntoBrowser(token, targetURL string) error {
	if token == "" {
		return fmt.Errorf("no session token to inject")
	}
	target, err := url.Parse(targetURL)
	if err != nil {
		return fmt.Errorf("invalid target URL %q: %w", targetURL, err)
	}
	session, waiter, err := b.session()
	if err != nil {
		return err
	}

	if err := session.Navigate(targetURL); err != nil {
		return fmt.Errorf("could not open %s: %w", targetURL, err)
	}
	if err := waiter.ForPageReady(); err != nil {
		return err
	}
	cookie := browser.Cookie{
		Name:   b.config.SessionCookie,
		Value:  token,
		Domain: target.Hostname(),
		Path:   "/",
	}
	if err := session.SetCookie(cookie); err != nil {
		return fmt.Errorf("could not set %s cookie: %w", cookie.Name, err)
	}
	b.loggers.Debugf("Set %s cookie for %s", cookie.Name, cookie.Domain)
	if err := session.Reload(); err != nil {
		return fmt.Errorf("could not reload %s: %w", targetURL, err)
	}
	return waiter.ForPageReady()
}

// Verify reports whether the page shows signs of a logged-in user. It never fails the caller;
// a negative result is logged as a warning.
func (b *Bridge) Verify() bool {
	_, waiter, err := b.session()
	if err == nil {
		_, err = waiter.UntilAnyVisible([]browser.Locator{
			browser.LinkText("My Account"),
			browser.XPath("//a[contains(@href, 'account/account')]"),
		}, wait.WithTimeout(b.config.VerifyTimeout))
	}
	if err != nil {
		b.loggers.Warnf("Could not verify login state: %s", err)
		return false
	}
	return true
}

// Logout ends the storefront session if there is one. Errors from the logout request are
// logged and otherwise ignored; the Bridge is anonymous afterward either way.
func (b *Bridge) Logout(ctx context.Context) {
	if !b.State().IsAuthenticated() {
		return
	}
	defer b.setState(Anonymous)

	resp, err := b.get(ctx, b.config.Routes.Logout)
	if err != nil {
		b.loggers.Warnf("Logout request failed: %s", err)
		return
	}
	resp.Body.Close()
	b.loggers.Info("Logged out")
}

// StartGuestSession requests the home page so that the HTTP client holds a guest session
// cookie, then posts to the cart removal endpoint so that the session's cart is reset, and
// returns the cookie's value. The removal must answer 200 with a JSON object.
func (b *Bridge) StartGuestSession(ctx context.Context) (string, error) {
	resp, err := b.get(ctx, b.config.Routes.Home)
	if err != nil {
		return "", fmt.Errorf("could not start guest session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("could not start guest session: unexpected status %d", resp.StatusCode)
	}
	var token string
	for _, c := range resp.Cookies() {
		if c.Name == b.config.SessionCookie {
			token = c.Value
		}
	}
	if token == "" {
		return "", fmt.Errorf("could not start guest session: no %s cookie in response", b.config.SessionCookie)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url(b.config.Routes.RemoveCart), strings.NewReader(""))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	resp, err = b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not clear guest cart: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("could not read guest cart response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("could not clear guest cart: unexpected status %d", resp.StatusCode)
	}
	if ldvalue.Parse(body).Type() != ldvalue.ObjectType {
		return "", fmt.Errorf("could not clear guest cart: response is not a JSON object")
	}
	b.loggers.Debugf("Started guest session with an empty cart")
	return token, nil
}

func (b *Bridge) get(ctx context.Context, route string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url(route), nil)
	if err != nil {
		return nil, err
	}
	return b.client.Do(req)
}
