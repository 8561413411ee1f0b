// Package execution ties one scenario run to the resources it holds exclusively: a leased test
// credential, a browser session, and the authentication and cart state of that session.
//
// Begin acquires everything a scenario needs and Close gives all of it back, whatever state the
// scenario left it in. Contexts never share any of these resources, so any number of them can
// run concurrently, up to the size of the credential pool.
package execution

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/actuator"
	"github.com/storefront-qa/storefront-e2e-tests/auth"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/cart"
	"github.com/storefront-qa/storefront-e2e-tests/pool"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

// teardownTimeout bounds the network calls made by Close.
const teardownTimeout = 30 * time.Second

// Resources are shared by all execution contexts of a test run.
type Resources struct {
	Credentials *pool.Pool[auth.Credential]
	Browsers    *browser.Manager
	Browser     browser.Config
	Auth        auth.Config

	// NewHTTPClient creates the HTTP client of each context. Each context needs its own,
	// since the client holds the context's storefront cookies.
	NewHTTPClient func() auth.Doer

	WaitOptions     []wait.Option
	ActuatorOptions []actuator.Option

	// ScreenshotDir is where screenshots of failed scenarios are saved. If empty, none are taken.
	ScreenshotDir string

	Loggers ldlog.Loggers
	Metrics *telemetry.Metrics
}

// Context is everything one scenario run holds.
type Context struct {
	ID         string
	Name       string
	Credential auth.Credential
	Session    browser.Session
	Waiter     *wait.Waiter
	Actuator   *actuator.Actuator
	Auth       *auth.Bridge
	Cart       *cart.Client

	resources *Resources
	loggers   ldlog.Loggers
	closed    bool
	lock      sync.Mutex
}

// BeginOption customizes a single Context.
type BeginOption func(*Context)

// WithLoggers sets the loggers of a Context, replacing the Resources' loggers.
func WithLoggers(loggers ldlog.Loggers) BeginOption {
	return func(c *Context) { c.loggers = loggers }
}

// Begin leases a credential, opens a browser session with no cookies, and wires the session's
// waiter, actuator, and authentication bridge. If any step fails, whatever was already acquired
// is given back before the error is returned.
func (r *Resources) Begin(ctx context.Context, name string, opts ...BeginOption) (*Context, error) {
	c := &Context{
		ID:        uuid.NewString(),
		Name:      name,
		resources: r,
		loggers:   r.Loggers,
	}
	for _, o := range opts {
		o(c)
	}
	c.loggers.SetPrefix("[" + c.ID[:8] + "]")

	cred, err := r.Credentials.Acquire(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("could not lease a test credential for %s: %w", name, err)
	}
	c.Credential = cred
	c.loggers.Infof("Starting %s as %s", name, cred)

	session, err := r.Browsers.Create(c.ID, r.Browser)
	if err != nil {
		_ = r.Credentials.Release(c.ID)
		return nil, err
	}
	c.Session = session
	if err := session.DeleteCookies(); err != nil {
		_ = r.Browsers.Destroy(c.ID)
		_ = r.Credentials.Release(c.ID)
		return nil, fmt.Errorf("could not clear cookies of new browser session: %w", err)
	}

	waitOpts := append(append([]wait.Option(nil), r.WaitOptions...),
		wait.WithLoggers(c.loggers), wait.WithMetrics(r.Metrics))
	c.Waiter = wait.New(session, waitOpts...)
	c.Actuator = actuator.New(c.Waiter, append(append([]actuator.Option(nil), r.ActuatorOptions...),
		actuator.WithLoggers(c.loggers), actuator.WithMetrics(r.Metrics))...)

	var client auth.Doer
	if r.NewHTTPClient != nil {
		client = r.NewHTTPClient()
	} else {
		client = auth.NewHTTPClient(teardownTimeout)
	}
	c.Auth = auth.NewBridge(r.Auth, client, r.Browsers, c.ID,
		auth.WithLoggers(c.loggers),
		auth.WithMetrics(r.Metrics),
		auth.WithWaitOptions(waitOpts...),
	)
	c.Cart = cart.NewClient(r.Auth.BaseURL, client, cart.WithLoggers(c.loggers))
	return c, nil
}

// Loggers returns the loggers of this context.
func (c *Context) Loggers() ldlog.Loggers { return c.loggers }

// URL returns the absolute storefront URL for a route such as "/index.php?route=common/home".
func (c *Context) URL(route string) string {
	return strings.TrimSuffix(c.resources.Auth.BaseURL, "/") + route
}

// Open navigates to a storefront route and waits for the page to be ready.
func (c *Context) Open(route string) error {
	target := c.URL(route)
	if err := c.Session.Navigate(target); err != nil {
		return fmt.Errorf("could not open %s: %w", target, err)
	}
	return c.Waiter.ForPageReady()
}

// SignIn logs the context's credential in over HTTP and carries the session into the browser,
// leaving the browser on the given route.
func (c *Context) SignIn(ctx context.Context, route string) error {
	token, err := c.Auth.LoginViaAPI(ctx, c.Credential)
	if err != nil {
		return err
	}
	if err := c.Auth.InjectIntoBrowser(token, c.URL(route)); err != nil {
		return err
	}
	c.Auth.Verify()
	return nil
}

// Close releases everything the context holds: it saves a screenshot if the scenario failed,
// logs out, clears cookies, destroys the browser session, and returns the credential to the
// pool. Every step is attempted even if earlier ones fail. Calling Close again does nothing.
func (c *Context) Close(failed bool) error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}
	c.closed = true
	c.lock.Unlock()

	r := c.resources
	var errs []error

	if failed && r.ScreenshotDir != "" {
		if path, err := c.saveScreenshot(); err != nil {
			c.loggers.Warnf("Could not save screenshot: %s", err)
			errs = append(errs, err)
		} else {
			c.loggers.Infof("Saved screenshot to %s", path)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	c.Auth.Logout(ctx)
	cancel()

	if err := c.Session.DeleteCookies(); err != nil {
		errs = append(errs, fmt.Errorf("could not clear cookies: %w", err))
	}
	if err := r.Browsers.Destroy(c.ID); err != nil {
		errs = append(errs, fmt.Errorf("could not close browser session: %w", err))
	}
	if err := r.Credentials.Release(c.ID); err != nil {
		errs = append(errs, err)
	}
	c.loggers.Infof("Finished %s", c.Name)
	return errors.Join(errs...)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (c *Context) saveScreenshot() (string, error) {
	data, err := c.Session.Screenshot()
	if err != nil {
		return "", fmt.Errorf("could not take screenshot: %w", err)
	}
	if err := os.MkdirAll(c.resources.ScreenshotDir, 0o755); err != nil {
		return "", err
	}
	name := strings.Trim(unsafeFileChars.ReplaceAllString(c.Name, "-"), "-")
	path := filepath.Join(c.resources.ScreenshotDir, fmt.Sprintf("%s-%s.png", name, c.ID[:8]))
	return path, os.WriteFile(path, data, 0o644)
}

// Run begins a context, runs action in it, and closes it. A panic in action is turned into an
// error once the context is closed.
func (r *Resources) Run(ctx context.Context, name string, action func(*Context) error, opts ...BeginOption) (err error) {
	c, err := r.Begin(ctx, name, opts...)
	if err != nil {
		return err
	}
	failed := true
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in %s: %v", name, p)
			failed = true
		}
		if closeErr := c.Close(failed); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()
	err = action(c)
	failed = err != nil
	return err
}
