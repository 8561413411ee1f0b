package framework

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ConsoleTestLogger is a TestLogger that writes progress to the console. Tests running
// concurrently can report at the same time, so each call writes its lines as a unit.
type ConsoleTestLogger struct {
	DebugOutputOnFailure bool
	DebugOutputOnSuccess bool

	// Output defaults to color.Output, which is standard output with color support where the
	// terminal allows it.
	Output io.Writer

	lock sync.Mutex
}

func (c *ConsoleTestLogger) out() io.Writer {
	if c.Output == nil {
		return color.Output
	}
	return c.Output
}

func (c *ConsoleTestLogger) TestStarted(id TestID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	fmt.Fprintf(c.out(), "[%s]\n", id)
}

func (c *ConsoleTestLogger) TestError(id TestID, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(c.out(), "  [%s] %s\n", id, line)
	}
}

func (c *ConsoleTestLogger) TestFinished(id TestID, failed bool, debugOutput CapturedOutput) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if failed {
		color.New(color.FgRed).Fprintf(c.out(), "  FAILED: %s\n", id)
	}
	if len(debugOutput) > 0 &&
		((failed && c.DebugOutputOnFailure) || (!failed && c.DebugOutputOnSuccess)) {
		debugOutput.Dump(c.out(), "    DEBUG ")
	}
}

func (c *ConsoleTestLogger) TestSkipped(id TestID, reason string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	skipped := color.New(color.FgYellow)
	if reason == "" {
		skipped.Fprintf(c.out(), "  SKIPPED: %s\n", id)
	} else {
		skipped.Fprintf(c.out(), "  SKIPPED: %s (%s)\n", id, reason)
	}
}
