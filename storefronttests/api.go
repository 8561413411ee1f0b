package storefronttests

import (
	"context"
	"sort"
	"strings"

	"github.com/stretchr/testify/require"

	"github.com/storefront-qa/storefront-e2e-tests/actuator"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/execution"
	"github.com/storefront-qa/storefront-e2e-tests/framework"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
)

const (
	HomeRoute    = "/index.php?route=common/home"
	LoginRoute   = "/index.php?route=account/login"
	AccountRoute = "/index.php?route=account/account"
)

var (
	MyAccountLink = browser.LinkText("My Account")
	PageContent   = browser.CSS("#content")
	EmailInput    = browser.CSS("#input-email")
	PasswordInput = browser.CSS("#input-password")
	LoginButton   = browser.CSS("input[value='Login']")
	LoginAlert    = browser.CSS(".alert-danger")
)

type environment struct {
	resources   *execution.Resources
	parallelism int
	metrics     *telemetry.Metrics
}

// T represents a test or subtest in the storefront test suite.
//
// It implements the same basic functionality as Go's testing.T, but in an environment that is outside
// of the Go test runner. Those features are provided by our lower-level framework package.
//
// The first time a test asks for its execution context, T begins one: it leases a test account,
// opens a browser session, and clears its cookies. All of that is given back when the test
// finishes, whether it passed or not.
//
// To make test assertions, you can use the assert and require packages, passing the *T as if it were
// a *testing.T. The page interaction methods of T fail the test immediately if the interaction fails.
type T struct {
	context *framework.Context
	env     *environment
	exec    *execution.Context
}

func newTestScope(c *framework.Context, env *environment) *T {
	return &T{context: c, env: env}
}

// newScenarioScope is newTestScope for a test that counts as a scenario in the run's metrics.
func newScenarioScope(c *framework.Context, env *environment) *T {
	c.Cleanup(func() {
		switch {
		case c.Skipped():
			env.metrics.ScenarioFinished("skipped")
		case c.Failed():
			env.metrics.ScenarioFinished("failed")
		default:
			env.metrics.ScenarioFinished("passed")
		}
	})
	return newTestScope(c, env)
}

// Errorf is called by assertions to log a test failure. It does not cause an immediate exit.
func (t *T) Errorf(format string, args ...interface{}) {
	t.context.Errorf(format, args...)
}

// FailNow is called by assertions when a test should fail and immediately exit. The methods in
// the require package call FailNow.
func (t *T) FailNow() {
	t.context.FailNow()
}

// Run runs a subtest. This is equivalent to the Run method of testing.T.
//
// The specified function receives a new T instance, with its own execution context.
func (t *T) Run(name string, action func(*T)) {
	t.context.Run(name, func(c *framework.Context) {
		action(newTestScope(c, t.env))
	})
}

// RunParallel runs the given subtests concurrently, as many at a time as the suite's parallelism
// allows, and returns when all of them have finished.
func (t *T) RunParallel(tests map[string]func(*T)) {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	t.context.Parallel(t.env.parallelism, func(g *framework.Group) {
		for _, name := range names {
			action := tests[name]
			g.Run(name, func(c *framework.Context) {
				action(newScenarioScope(c, t.env))
			})
		}
	})
}

// Debug logs some debug output for the test. The output will be passed to the test logger at
// the end of the test.
func (t *T) Debug(format string, args ...interface{}) {
	t.context.Debug(format, args...)
}

// Execution returns the test's execution context, beginning it if necessary.
func (t *T) Execution() *execution.Context {
	if t.exec != nil {
		return t.exec
	}
	c := t.context
	exec, err := t.env.resources.Begin(context.Background(), c.ID().String(),
		execution.WithLoggers(c.Loggers()))
	require.NoError(t, err, "could not begin execution context")
	t.exec = exec
	c.Cleanup(func() {
		if err := exec.Close(c.Failed()); err != nil {
			c.Errorf("teardown failed: %s", err)
		}
	})
	return exec
}

// Open navigates to a storefront route and waits for the page to be ready.
func (t *T) Open(route string) {
	require.NoError(t, t.Execution().Open(route))
}

// SignIn logs the test's account in and leaves the browser on route.
func (t *T) SignIn(route string) {
	require.NoError(t, t.Execution().SignIn(context.Background(), route))
}

// Click clicks an element, falling back to a scripted click if native clicks keep failing.
func (t *T) Click(locator browser.Locator) actuator.Outcome {
	outcome, err := t.Execution().Actuator.Click(locator)
	require.NoError(t, err)
	if outcome.Degraded {
		t.Debug("click on %s needed a scripted fallback after %d native failures", locator, len(outcome.NativeFailures))
	}
	return outcome
}

// Type enters text into a field.
func (t *T) Type(locator browser.Locator, text string) {
	require.NoError(t, t.Execution().Actuator.Type(locator, text))
}

// RequireVisible waits for an element to be visible and returns its text.
func (t *T) RequireVisible(locator browser.Locator) string {
	text, err := t.Execution().Actuator.Text(locator)
	require.NoError(t, err)
	return strings.TrimSpace(text)
}

// RequireURLContains waits for the browser's URL to contain fragment.
func (t *T) RequireURLContains(fragment string) {
	require.NoError(t, t.Execution().Waiter.ForURLContains(fragment))
}
