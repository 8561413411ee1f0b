// Package actuator performs clicks that survive the usual sources of UI flakiness: elements
// that are still animating, covered by an overlay, or re-rendered between lookup and click.
//
// A click is attempted natively up to MaxNativeAttempts times, pausing between attempts. If
// every native attempt fails, a single script-dispatched click is tried. A click that only
// succeeded through script is reported as degraded, since a real user might not have been able
// to perform it.
package actuator

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

// MaxNativeAttempts is the number of native clicks tried before falling back to script.
const MaxNativeAttempts = 3

var (
	// ErrClickFailed is matched by *ClickFailedError.
	ErrClickFailed = errors.New("click failed")

	// ErrNotInteractable means the element was found but was hidden or disabled when the click
	// was about to happen.
	ErrNotInteractable = errors.New("element is not interactable")
)

// ClickFailedError means neither native nor scripted clicks worked. Attempts holds one error
// per native attempt followed by the error from the scripted attempt.
type ClickFailedError struct {
	Locator  browser.Locator
	Attempts []error
}

func (e *ClickFailedError) Error() string {
	msg := fmt.Sprintf("%s on %s after %d attempts", ErrClickFailed, e.Locator, len(e.Attempts))
	if n := len(e.Attempts); n > 0 {
		msg += fmt.Sprintf(" (last error: %s)", e.Attempts[n-1])
	}
	return msg
}

func (e *ClickFailedError) Is(target error) bool { return target == ErrClickFailed }

func (e *ClickFailedError) Unwrap() []error { return e.Attempts }

// State is a step of the click state machine.
type State int

const (
	Attempting State = iota
	FallbackScripted
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case FallbackScripted:
		return "fallback-scripted"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome describes how a click ended.
type Outcome struct {
	State          State
	NativeFailures []error

	// Degraded is true if the click only succeeded through script.
	Degraded bool
}

// Timings are the pauses and bounds of a click.
type Timings struct {
	// Clickable bounds the wait for the element before each attempt.
	Clickable time.Duration

	// Settle is the pause after scrolling the element into view.
	Settle time.Duration

	// PostClick is the pause after a click, giving the page time to react.
	PostClick time.Duration

	// Backoff is the pause after a failed native attempt.
	Backoff time.Duration
}

// DefaultTimings are used unless WithTimings is given.
var DefaultTimings = Timings{
	Clickable: 10 * time.Second,
	Settle:    200 * time.Millisecond,
	PostClick: 500 * time.Millisecond,
	Backoff:   time.Second,
}

// Actuator clicks and types into elements of one browser session.
type Actuator struct {
	waiter  *wait.Waiter
	clock   wait.Clock
	timings Timings
	loggers ldlog.Loggers
	metrics *telemetry.Metrics
}

type Option func(*Actuator)

func WithLoggers(loggers ldlog.Loggers) Option {
	return func(a *Actuator) { a.loggers = loggers }
}

func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(a *Actuator) { a.metrics = metrics }
}

// WithTimings replaces the default timings. Zero fields keep their defaults.
func WithTimings(t Timings) Option {
	return func(a *Actuator) {
		if t.Clickable > 0 {
			a.timings.Clickable = t.Clickable
		}
		if t.Settle > 0 {
			a.timings.Settle = t.Settle
		}
		if t.PostClick > 0 {
			a.timings.PostClick = t.PostClick
		}
		if t.Backoff > 0 {
			a.timings.Backoff = t.Backoff
		}
	}
}

// New creates an Actuator that finds elements through waiter and pauses on waiter's clock.
func New(waiter *wait.Waiter, opts ...Option) *Actuator {
	a := &Actuator{
		waiter:  waiter,
		clock:   waiter.Clock(),
		timings: DefaultTimings,
		loggers: ldlog.NewDisabledLoggers(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Click clicks the element matching locator, falling back to a scripted click if native
// clicks keep failing. On success the Outcome's State is Succeeded; otherwise the error is a
// *ClickFailedError and the Outcome's State is Failed.
func (a *Actuator) Click(locator browser.Locator) (Outcome, error) {
	var (
		state    = Attempting
		attempt  = 1
		failures []error
		degraded bool
		final    []error
	)
	for {
		switch state {
		case Attempting:
			err := a.nativeClick(locator)
			if err == nil {
				state = Succeeded
				continue
			}
			a.loggers.Debugf("Click attempt %d on %s failed: %s", attempt, locator, err)
			failures = append(failures, fmt.Errorf("attempt %d: %w", attempt, err))
			a.clock.Sleep(a.timings.Backoff)
			if attempt == MaxNativeAttempts {
				state = FallbackScripted
			} else {
				attempt++
			}

		case FallbackScripted:
			err := a.scriptedClick(locator)
			if err != nil {
				final = append(append(final, failures...), fmt.Errorf("scripted click: %w", err))
				state = Failed
				continue
			}
			degraded = true
			state = Succeeded

		case Succeeded:
			if degraded {
				a.loggers.Warnf("Clicked %s only by script after %d failed native attempts; a user may not be able to", locator, len(failures))
				a.metrics.Click(telemetry.ClickFallback)
			} else {
				a.metrics.Click(telemetry.ClickNative)
			}
			return Outcome{State: Succeeded, NativeFailures: failures, Degraded: degraded}, nil

		case Failed:
			a.loggers.Errorf("Could not click %s", locator)
			a.metrics.Click(telemetry.ClickFailed)
			return Outcome{State: Failed, NativeFailures: failures},
				&ClickFailedError{Locator: locator, Attempts: final}
		}
	}
}

func (a *Actuator) nativeClick(locator browser.Locator) error {
	el, err := a.waiter.UntilClickable(locator, wait.WithTimeout(a.timings.Clickable))
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	a.clock.Sleep(a.timings.Settle)

	// The element may have been covered or re-rendered while settling.
	if ok, err := interactable(el); err != nil {
		return err
	} else if !ok {
		return ErrNotInteractable
	}
	if err := el.Click(); err != nil {
		return err
	}
	a.clock.Sleep(a.timings.PostClick)
	return nil
}

func (a *Actuator) scriptedClick(locator browser.Locator) error {
	el, err := a.waiter.UntilVisible(locator, wait.WithTimeout(a.timings.Clickable))
	if err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	a.clock.Sleep(a.timings.Settle)
	if err := el.ScriptClick(); err != nil {
		return err
	}
	a.clock.Sleep(a.timings.PostClick)
	return nil
}

func interactable(el browser.Element) (bool, error) {
	displayed, err := el.Displayed()
	if err != nil || !displayed {
		return false, err
	}
	return el.Enabled()
}

// Type replaces the value of the element matching locator once it is visible.
func (a *Actuator) Type(locator browser.Locator, text string) error {
	el, err := a.waiter.UntilVisible(locator)
	if err != nil {
		return err
	}
	if err := el.Type(text); err != nil {
		return fmt.Errorf("could not type into %s: %w", locator, err)
	}
	return nil
}

// Text returns the text of the element matching locator once it is visible.
func (a *Actuator) Text(locator browser.Locator) (string, error) {
	el, err := a.waiter.UntilVisible(locator)
	if err != nil {
		return "", err
	}
	return el.Text()
}
