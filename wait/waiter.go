// Package wait polls a browser session until a condition holds or a timeout expires.
//
// Every operation is bounded. A condition that never holds fails with a *TimeoutError no
// earlier than the timeout and no later than one poll interval after it (plus the time taken
// by the last check itself).
package wait

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 250 * time.Millisecond

	// BackgroundIdleTimeout bounds the best-effort background check of ForPageReady. A
	// shorter call timeout applies if one is set.
	BackgroundIdleTimeout = 5 * time.Second
)

const (
	// ReadyStateScript returns document.readyState.
	ReadyStateScript = `() => document.readyState`

	// BackgroundIdleScript returns "absent" if the page has no jQuery, otherwise whether
	// jQuery has no requests in flight.
	BackgroundIdleScript = `() => (typeof window.jQuery === "undefined") ? "absent" : window.jQuery.active === 0`
)

// Waiter polls one browser session.
type Waiter struct {
	session  browser.Session
	clock    Clock
	loggers  ldlog.Loggers
	metrics  *telemetry.Metrics
	timeout  time.Duration
	interval time.Duration
}

// Option customizes a Waiter.
type Option func(*Waiter)

func WithClock(clock Clock) Option {
	return func(w *Waiter) { w.clock = clock }
}

func WithLoggers(loggers ldlog.Loggers) Option {
	return func(w *Waiter) { w.loggers = loggers }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(w *Waiter) { w.metrics = metrics }
}

// Defaults replaces the timeout and poll interval used by calls that do not override them.
// Zero values leave the package defaults in place.
func Defaults(timeout, pollInterval time.Duration) Option {
	return func(w *Waiter) {
		if timeout > 0 {
			w.timeout = timeout
		}
		if pollInterval > 0 {
			w.interval = pollInterval
		}
	}
}

// New creates a Waiter for session.
func New(session browser.Session, opts ...Option) *Waiter {
	w := &Waiter{
		session:  session,
		clock:    SystemClock,
		loggers:  ldlog.NewDisabledLoggers(),
		timeout:  DefaultTimeout,
		interval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Clock returns the clock the Waiter sleeps on, so that callers pacing themselves alongside it
// stay on the same timeline.
func (w *Waiter) Clock() Clock { return w.clock }

// Session returns the session being polled.
func (w *Waiter) Session() browser.Session { return w.session }

// CallOption customizes a single wait.
type CallOption func(*call)

type call struct {
	timeout  time.Duration
	interval time.Duration
	quiet    bool
}

// WithTimeout sets how long a single wait may take.
func WithTimeout(d time.Duration) CallOption {
	return func(c *call) { c.timeout = d }
}

// WithPollInterval sets how long a single wait sleeps between checks.
func WithPollInterval(d time.Duration) CallOption {
	return func(c *call) { c.interval = d }
}

func (w *Waiter) settings(opts []CallOption) call {
	c := call{timeout: w.timeout, interval: w.interval}
	for _, o := range opts {
		o(&c)
	}
	if c.interval <= 0 {
		c.interval = w.interval
	}
	return c
}

// poll evaluates check until it returns true or the timeout expires. Errors from check are
// not fatal; the last one is reported in the TimeoutError.
func (w *Waiter) poll(kind, condition string, opts []CallOption, check func() (bool, error)) error {
	c := w.settings(opts)
	start := w.clock.Now()
	var lastErr error
	for {
		ok, err := check()
		if err != nil {
			lastErr = err
		} else if ok {
			return nil
		}
		elapsed := w.clock.Now().Sub(start)
		if elapsed >= c.timeout {
			if !c.quiet {
				w.metrics.WaitTimedOut(kind)
				w.loggers.Debugf("Gave up after %s waiting for %s", elapsed, condition)
			}
			return &TimeoutError{Condition: condition, Elapsed: elapsed, LastErr: lastErr}
		}
		sleep := c.interval
		if remaining := c.timeout - elapsed; remaining < sleep {
			sleep = remaining
		}
		w.clock.Sleep(sleep)
	}
}

func (w *Waiter) firstMatching(locator browser.Locator, match func(browser.Element) (bool, error)) (browser.Element, error) {
	elements, err := w.session.FindElements(locator)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for _, el := range elements {
		ok, err := match(el)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return el, nil
		}
	}
	return nil, lastErr
}

func displayed(el browser.Element) (bool, error) {
	return el.Displayed()
}

func clickable(el browser.Element) (bool, error) {
	ok, err := el.Displayed()
	if err != nil || !ok {
		return false, err
	}
	return el.Enabled()
}

func enabled(el browser.Element) (bool, error) {
	return el.Enabled()
}

func present(browser.Element) (bool, error) {
	return true, nil
}

func (w *Waiter) untilElement(kind string, locator browser.Locator, opts []CallOption, match func(browser.Element) (bool, error)) (browser.Element, error) {
	var found browser.Element
	err := w.poll(kind, fmt.Sprintf("%s to be %s", locator, kind), opts, func() (bool, error) {
		el, err := w.firstMatching(locator, match)
		if err != nil {
			return false, err
		}
		found = el
		return el != nil, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// UntilVisible waits for an element matching locator to be displayed and returns it.
func (w *Waiter) UntilVisible(locator browser.Locator, opts ...CallOption) (browser.Element, error) {
	return w.untilElement("visible", locator, opts, displayed)
}

// UntilClickable waits for an element matching locator to be displayed and enabled.
func (w *Waiter) UntilClickable(locator browser.Locator, opts ...CallOption) (browser.Element, error) {
	return w.untilElement("clickable", locator, opts, clickable)
}

// UntilPresent waits for an element matching locator to exist, displayed or not.
func (w *Waiter) UntilPresent(locator browser.Locator, opts ...CallOption) (browser.Element, error) {
	return w.untilElement("present", locator, opts, present)
}

// UntilEnabled waits for an element matching locator to be enabled, displayed or not.
func (w *Waiter) UntilEnabled(locator browser.Locator, opts ...CallOption) (browser.Element, error) {
	return w.untilElement("enabled", locator, opts, enabled)
}

// UntilAnyVisible waits for an element matching any of the locators to be displayed.
func (w *Waiter) UntilAnyVisible(locators []browser.Locator, opts ...CallOption) (browser.Element, error) {
	names := make([]string, 0, len(locators))
	for _, l := range locators {
		names = append(names, l.String())
	}
	var found browser.Element
	err := w.poll("visible", fmt.Sprintf("any of [%s] to be visible", strings.Join(names, ", ")), opts,
		func() (bool, error) {
			var lastErr error
			for _, l := range locators {
				el, err := w.firstMatching(l, displayed)
				if err != nil {
					lastErr = err
					continue
				}
				if el != nil {
					found = el
					return true, nil
				}
			}
			return false, lastErr
		})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// UntilInvisible waits until no element matching locator is displayed. An element that cannot
// be found, or whose lookup fails, counts as invisible.
func (w *Waiter) UntilInvisible(locator browser.Locator, opts ...CallOption) error {
	return w.poll("invisible", fmt.Sprintf("%s to be invisible", locator), opts, func() (bool, error) {
		elements, err := w.session.FindElements(locator)
		if err != nil {
			return true, nil
		}
		for _, el := range elements {
			if ok, err := el.Displayed(); err == nil && ok {
				return false, nil
			}
		}
		return true, nil
	})
}

// VisibleWithin reports whether an element matching locator becomes visible within timeout.
// It is a quick check: it never fails and is not counted as a timed-out wait.
func (w *Waiter) VisibleWithin(locator browser.Locator, timeout time.Duration) bool {
	_, err := w.untilElement("visible", locator, []CallOption{
		WithTimeout(timeout),
		func(c *call) { c.quiet = true },
	}, displayed)
	return err == nil
}

// ForURLContains waits for the current URL to contain substring.
func (w *Waiter) ForURLContains(substring string, opts ...CallOption) error {
	return w.poll("url", fmt.Sprintf("URL to contain %q", substring), opts, func() (bool, error) {
		current, err := w.session.URL()
		if err != nil {
			return false, err
		}
		return strings.Contains(current, substring), nil
	})
}

// ForURLChange waits for the current URL to differ from previous.
func (w *Waiter) ForURLChange(previous string, opts ...CallOption) error {
	return w.poll("url", fmt.Sprintf("URL to change from %q", previous), opts, func() (bool, error) {
		current, err := w.session.URL()
		if err != nil {
			return false, err
		}
		return current != previous, nil
	})
}

// ForPageReady waits for the document to finish loading. Once it has, it also waits up to
// BackgroundIdleTimeout for jQuery to have no requests in flight if the page uses jQuery; that
// second check is best effort, and if it times out the failure is logged and ignored.
func (w *Waiter) ForPageReady(opts ...CallOption) error {
	err := w.poll("page_ready", "document to be ready", opts, func() (bool, error) {
		state, err := w.session.Evaluate(ReadyStateScript)
		if err != nil {
			return false, err
		}
		return state == "complete", nil
	})
	if err != nil {
		return err
	}

	idle := BackgroundIdleTimeout
	if t := w.settings(opts).timeout; t < idle {
		idle = t
	}
	idleOpts := append(append([]CallOption(nil), opts...), WithTimeout(idle))
	err = w.poll("background_idle", "background requests to finish", idleOpts, func() (bool, error) {
		result, err := w.session.Evaluate(BackgroundIdleScript)
		if err != nil {
			return false, err
		}
		switch v := result.(type) {
		case string:
			return v == "absent", nil
		case bool:
			return v, nil
		}
		return false, fmt.Errorf("unexpected result from background check: %v", result)
	})
	if err != nil {
		w.loggers.Warnf("Page loaded but background requests did not settle: %s", err)
	}
	return nil
}
