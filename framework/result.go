package framework

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

type Results struct {
	Tests    []TestResult
	Failures []TestResult
}

type TestResult struct {
	TestID  TestID
	Errors  []error
	Skipped bool
}

func (r Results) OK() bool {
	return len(r.Failures) == 0
}

// Counts returns the number of tests that passed, failed, and were skipped.
func (r Results) Counts() (passed, failed, skipped int) {
	for _, t := range r.Tests {
		if t.Skipped {
			skipped++
		}
	}
	failed = len(r.Failures)
	passed = len(r.Tests) - failed - skipped
	return
}

type TestID struct {
	Path []string
}

func (t TestID) String() string {
	return strings.Join(t.Path, "/")
}

type TestFailure struct {
	ID  TestID
	Err error
}

func (f TestFailure) Error() string {
	return fmt.Sprintf("[%s]: %s", f.ID, f.Err)
}

// PrintResults writes a summary of a test run to standard output.
func PrintResults(results Results) {
	WriteResults(color.Output, results)
}

// WriteResults writes a summary of a test run: each failed test with its errors, then the totals.
func WriteResults(w io.Writer, results Results) {
	passed, failed, skipped := results.Counts()
	if failed > 0 {
		red := color.New(color.FgRed, color.Bold)
		red.Fprintln(w, "FAILED TESTS:")
		for _, f := range results.Failures {
			red.Fprintf(w, "  %s\n", f.TestID)
			for _, err := range f.Errors {
				for _, line := range strings.Split(err.Error(), "\n") {
					fmt.Fprintf(w, "      %s\n", line)
				}
			}
		}
		fmt.Fprintln(w)
	}
	summary := fmt.Sprintf("%d passed, %d failed, %d skipped", passed, failed, skipped)
	if failed > 0 {
		color.New(color.FgRed).Fprintln(w, summary)
	} else {
		color.New(color.FgGreen).Fprintln(w, summary)
	}
}
