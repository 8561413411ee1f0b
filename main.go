package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/storefront-qa/storefront-e2e-tests/auth"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/config"
	"github.com/storefront-qa/storefront-e2e-tests/execution"
	"github.com/storefront-qa/storefront-e2e-tests/framework"
	"github.com/storefront-qa/storefront-e2e-tests/pool"
	"github.com/storefront-qa/storefront-e2e-tests/storefronttests"
	"github.com/storefront-qa/storefront-e2e-tests/telemetry"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

const statusQueryTimeout = time.Second * 10

func main() {
	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}
	os.Exit(run(params))
}

// run executes the test suite and returns the process exit code. It returns instead of exiting
// so that browsers and the metrics listener are shut down.
func run(params commandParams) int {

	settings, err := config.Load(params.configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	applyParams(&settings, params)
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid settings:\n%s\n", err)
		return 1
	}

	browserEnv, err := browser.ParseEnvironment(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	endpoint, err := browser.ResolveEndpoint(browserEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	mainDebugLogger := framework.NullLogger()
	loggers := ldlog.NewDefaultLoggers()
	loggers.SetMinLevel(ldlog.Warn)
	if params.debugAll {
		mainDebugLogger = log.New(os.Stdout, "", log.LstdFlags)
		loggers.SetMinLevel(ldlog.Debug)
	}

	harness, err := framework.NewTestHarness(
		settings.BaseURL,
		statusQueryTimeout,
		mainDebugLogger,
		os.Stdout,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Storefront error: %s\n", err)
		return 1
	}
	defer harness.Close()

	metrics := telemetry.New()
	if params.metricsListen != "" {
		addr, err := harness.Serve(params.metricsListen, metrics.Handler())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("Serving metrics on http://%s/metrics\n", addr)
	}

	poolOpts := []pool.Option{
		pool.AcquireTimeout(settings.AcquireTimeout()),
		pool.Loggers(loggers),
		pool.Metrics(metrics),
		pool.Describe(func(c auth.Credential) string { return c.Email }),
	}
	if params.strictPool {
		poolOpts = append(poolOpts, pool.Strict())
	}
	credentials, err := pool.New(settings.Credentials(), poolOpts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	browsers := browser.NewManager(browser.WithLoggers(loggers), browser.WithMetrics(metrics))
	defer func() {
		if err := browsers.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing browsers: %s\n", err)
		}
	}()

	resources := &execution.Resources{
		Credentials: credentials,
		Browsers:    browsers,
		Browser: browser.Config{
			Kind:      settings.BrowserKind(),
			Headless:  settings.IsHeadless(),
			Endpoint:  endpoint,
			ExtraArgs: browserEnv.ChromeOpts,
		},
		Auth:          auth.Config{BaseURL: settings.BaseURL},
		WaitOptions:   []wait.Option{wait.Defaults(settings.WaitTimeout(), settings.PollInterval())},
		ScreenshotDir: settings.ScreenshotDir,
		Loggers:       loggers,
		Metrics:       metrics,
	}

	fmt.Println()
	fmt.Printf("Browser: %s (%s), accounts: %d, parallelism: %d\n",
		resources.Browser.Kind, endpoint, credentials.Size(), settings.EffectiveParallelism())
	framework.PrintFilterDescription(params.filters)

	fmt.Println("Running test suite")

	testLogger := &framework.ConsoleTestLogger{
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}

	results := storefronttests.RunTestSuite(resources, params.filters.AsFilter, testLogger, settings.EffectiveParallelism())

	fmt.Println()
	framework.PrintResults(results)
	if !results.OK() {
		fmt.Println()
		fmt.Println("To run only the failed tests again:")
		fmt.Printf("  %s\n", params.rerunCommand(os.Args[0], results.Failures))
		return 1
	}
	return 0
}

func applyParams(s *config.Settings, params commandParams) {
	if params.storefrontURL != "" {
		s.BaseURL = params.storefrontURL
	}
	if params.browserName != "" {
		s.Browser = params.browserName
	}
	if params.headless != "" {
		headless := params.headless == "true"
		s.Headless = &headless
	}
	if params.parallelism > 0 {
		s.Parallelism = ldvalue.NewOptionalInt(params.parallelism)
	}
	if params.screenshotDir != "" {
		s.ScreenshotDir = params.screenshotDir
	}
}
