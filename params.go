package main

import (
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/storefront-qa/storefront-e2e-tests/framework"
)

type commandParams struct {
	storefrontURL string
	configPath    string
	browserName   string
	headless      string
	parallelism   int
	filters       framework.RegexFilters
	screenshotDir string
	metricsListen string
	strictPool    bool
	debug         bool
	debugAll      bool
}

func (c *commandParams) Read(args []string) bool {
	fs := flag.NewFlagSet("", flag.ExitOnError)
	fs.StringVar(&c.storefrontURL, "url", "", "storefront base URL (overrides the config file and STOREFRONT_BASE_URL)")
	fs.StringVar(&c.configPath, "config", "", "path of a JSON settings file")
	fs.StringVar(&c.browserName, "browser", "", "browser to use: chrome or firefox")
	fs.StringVar(&c.headless, "headless", "", "true or false; run browsers without a window")
	fs.IntVar(&c.parallelism, "parallel", 0, "maximum number of scenarios to run at once")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.StringVar(&c.screenshotDir, "screenshots", "", "directory for screenshots of failed scenarios")
	fs.StringVar(&c.metricsListen, "metrics-listen", "", "address such as :9090 on which to serve Prometheus metrics during the run")
	fs.BoolVar(&c.strictPool, "strict", false, "treat releasing an account that was not leased as a fatal error")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed tests")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all tests")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return false
	}
	if c.headless != "" && c.headless != "true" && c.headless != "false" {
		fmt.Fprintln(os.Stderr, "-headless must be true or false")
		fs.Usage()
		return false
	}
	return true
}

// rerunCommand returns a command line that runs only the given failed tests again.
func (c *commandParams) rerunCommand(program string, failures []framework.TestResult) string {
	var b commandBuilder
	b.add(program)
	if c.configPath != "" {
		b.add("-config", c.configPath)
	}
	if c.storefrontURL != "" {
		b.add("-url", c.storefrontURL)
	}
	if c.browserName != "" {
		b.add("-browser", c.browserName)
	}
	for _, f := range failures {
		b.add("-run", "^"+regexpQuotePath(f.TestID.Path)+"$")
	}
	return b.String()
}

func regexpQuotePath(path []string) string {
	quoted := make([]string, 0, len(path))
	for _, p := range path {
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	return strings.Join(quoted, "/")
}

type commandBuilder []string

func (b *commandBuilder) add(args ...string) {
	for _, a := range args {
		*b = append(*b, shellescape.Quote(a))
	}
}

func (b commandBuilder) String() string {
	return strings.Join(b, " ")
}
