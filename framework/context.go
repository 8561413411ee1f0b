package framework

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
)

type environment struct {
	results    Results
	testLogger TestLogger
	filter     Filter
	lock       sync.Mutex
}

func (e *environment) record(result TestResult, failed bool) {
	if len(result.TestID.Path) == 0 && !failed {
		return // the root context is only reported if it failed outside of any test
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.results.Tests = append(e.results.Tests, result)
	if failed {
		e.results.Failures = append(e.results.Failures, result)
	}
}

// Context is the state of one test, similar to *testing.T. Tests started from one Context with
// Run execute one after another; tests started through a Group run concurrently.
type Context struct {
	env         *environment
	id          TestID
	debugLogger CapturingLogger
	failed      bool
	skipped     bool
	skipReason  string
	errors      []error
	cleanups    []func()
}

func Run(
	filter func(TestID) bool,
	testLogger TestLogger,
	action func(*Context),
) Results {
	if testLogger == nil {
		testLogger = nullTestLogger{}
	}
	env := &environment{
		filter:     filter,
		testLogger: testLogger,
	}
	c := &Context{env: env}
	c.run(action)
	return env.results
}

func (c *Context) run(action func(*Context)) {
	defer func() {
		if r := recover(); r != nil {
			c.recovered(r)
		}
		c.runCleanups()
		result := TestResult{TestID: c.id, Errors: c.errors, Skipped: c.skipped}
		c.env.record(result, c.failed)
	}()

	action(c)
}

func (c *Context) recovered(r interface{}) {
	if c.skipped {
		return
	}
	c.failed = true
	var addError error
	if _, ok := r.(*Context); ok {
		if len(c.errors) == 0 {
			addError = errors.New("test failed with no failure message")
		}
	} else {
		addError = fmt.Errorf("unexpected panic in test: %+v\n%s", r, string(debug.Stack()))
	}
	if addError != nil {
		c.errors = append(c.errors, addError)
		c.env.testLogger.TestError(c.id, addError)
	}
}

// runCleanups calls the functions registered with Cleanup, most recent first. A cleanup can
// still fail the test.
func (c *Context) runCleanups() {
	for len(c.cleanups) > 0 {
		fn := c.cleanups[len(c.cleanups)-1]
		c.cleanups = c.cleanups[:len(c.cleanups)-1]
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.recovered(r)
				}
			}()
			fn()
		}()
	}
}

func (c *Context) ID() TestID {
	return c.id
}

func (c *Context) Run(name string, action func(*Context)) {
	id := TestID{Path: append(append([]string(nil), c.id.Path...), name)}

	c.env.testLogger.TestStarted(id)
	if c.env.filter != nil && !c.env.filter(id) {
		c.env.testLogger.TestSkipped(id, "excluded by filter parameters")
		return
	}
	c1 := &Context{
		id:  id,
		env: c.env,
	}
	c1.run(action)
	if c1.skipped {
		c.env.testLogger.TestSkipped(id, c1.skipReason)
	} else {
		c.env.testLogger.TestFinished(id, c1.failed, c1.debugLogger.Output())
	}
}

// Parallel calls action with a Group whose tests run concurrently, at most limit at a time, and
// returns once all of them have finished.
func (c *Context) Parallel(limit int, action func(*Group)) {
	g := &Group{parent: c}
	if limit > 0 {
		g.tasks.SetLimit(limit)
	}
	action(g)
	_ = g.tasks.Wait()
}

// Group starts concurrent tests under a parent Context.
type Group struct {
	parent *Context
	tasks  errgroup.Group
}

// Run starts a test like Context.Run, without waiting for it to finish. If the group is at its
// limit, Run blocks until a running test finishes.
func (g *Group) Run(name string, action func(*Context)) {
	g.tasks.Go(func() error {
		g.parent.Run(name, action)
		return nil
	})
}

// Cleanup registers fn to be called when the test finishes, whether it passed, failed or was
// skipped. Failed reports the test's state at that point.
func (c *Context) Cleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

func (c *Context) Failed() bool {
	return c.failed
}

func (c *Context) Skipped() bool {
	return c.skipped
}

func (c *Context) Errorf(format string, args ...interface{}) {
	c.failed = true
	err := fmt.Errorf(format, args...)
	c.errors = append(c.errors, err)
	c.env.testLogger.TestError(c.id, reformatError(err))
}

// reformatError flattens the multi-line messages produced by testify assertions.
func reformatError(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "\n") {
		return err
	}
	var lines []string
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return errors.New(strings.Join(lines, "\n"))
}

func (c *Context) FailNow() {
	panic(c)
}

func (c *Context) Skip() {
	c.skipped = true
	panic(c)
}

func (c *Context) SkipWithReason(reason string) {
	c.skipReason = reason
	c.Skip()
}

func (c *Context) Debug(message string, args ...interface{}) {
	c.debugLogger.Printf(message, args...)
}

func (c *Context) DebugLogger() Logger {
	return &c.debugLogger
}

// Loggers returns leveled loggers that write to this test's debug output.
func (c *Context) Loggers() ldlog.Loggers {
	loggers := ldlog.Loggers{}
	loggers.SetBaseLogger(&c.debugLogger)
	loggers.SetMinLevel(ldlog.Debug)
	return loggers
}
