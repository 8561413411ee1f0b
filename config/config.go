// Package config loads the settings of a test run: which storefront to test, with which
// accounts and browser, and how patiently.
//
// Settings come from an optional JSON file, overridden by environment variables. The command
// line can override both.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/storefront-qa/storefront-e2e-tests/auth"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
)

const (
	DefaultBrowser     = browser.Chrome
	DefaultParallelism = 2
)

// Settings is the contents of a settings file.
type Settings struct {
	BaseURL  string `json:"baseUrl"`
	Browser  string `json:"browser,omitempty"`
	Headless *bool  `json:"headless,omitempty"`

	// Users are the emails of the test accounts. All of them share Password.
	Users    []string `json:"users"`
	Password string   `json:"password,omitempty"`

	Parallelism      ldvalue.OptionalInt `json:"parallelism,omitempty"`
	WaitTimeoutMS    ldvalue.OptionalInt `json:"waitTimeoutMs,omitempty"`
	PollIntervalMS   ldvalue.OptionalInt `json:"pollIntervalMs,omitempty"`
	AcquireTimeoutMS ldvalue.OptionalInt `json:"acquireTimeoutMs,omitempty"`

	ScreenshotDir string `json:"screenshotDir,omitempty"`
}

// environment holds the variables that override Settings.
type environment struct {
	BaseURL       string   `env:"STOREFRONT_BASE_URL"`
	Browser       string   `env:"BROWSER"`
	Headless      *bool    `env:"HEADLESS"`
	Users         []string `env:"TEST_USER_EMAILS" envSeparator:","`
	Password      string   `env:"TEST_USER_PASSWORD"`
	Parallelism   *int     `env:"PARALLELISM"`
	ScreenshotDir string   `env:"SCREENSHOT_DIR"`
}

// Load reads the settings file at path, if path is not empty, and applies the overrides found in
// vars. If vars is nil the process environment is used.
func Load(path string, vars map[string]string) (Settings, error) {
	var s Settings
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("could not read settings file: %w", err)
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
		}
	}

	var e environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return Settings{}, fmt.Errorf("invalid environment: %w", err)
	}
	if e.BaseURL != "" {
		s.BaseURL = e.BaseURL
	}
	if e.Browser != "" {
		s.Browser = e.Browser
	}
	if e.Headless != nil {
		s.Headless = e.Headless
	}
	if len(e.Users) > 0 {
		s.Users = e.Users
	}
	if e.Password != "" {
		s.Password = e.Password
	}
	if e.Parallelism != nil {
		s.Parallelism = ldvalue.NewOptionalInt(*e.Parallelism)
	}
	if e.ScreenshotDir != "" {
		s.ScreenshotDir = e.ScreenshotDir
	}
	return s, nil
}

// Validate checks that the settings describe a runnable test run.
func (s Settings) Validate() error {
	var errs []error
	if s.BaseURL == "" {
		errs = append(errs, errors.New("storefront base URL is required"))
	} else if u, err := url.Parse(s.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("storefront base URL %q is not an http(s) URL", s.BaseURL))
	}
	creds := s.Credentials()
	if len(creds) == 0 {
		errs = append(errs, errors.New("at least one test user is required"))
	}
	seen := make(map[string]bool, len(creds))
	for _, c := range creds {
		// Two leases of the same account would share one storefront session.
		key := strings.ToLower(c.Email)
		if seen[key] {
			errs = append(errs, fmt.Errorf("test user %s is listed more than once", c.Email))
		}
		seen[key] = true
	}
	switch s.BrowserKind() {
	case browser.Chrome, browser.Firefox:
	default:
		errs = append(errs, fmt.Errorf("unsupported browser %q", s.Browser))
	}
	for name, v := range map[string]ldvalue.OptionalInt{
		"parallelism":      s.Parallelism,
		"waitTimeoutMs":    s.WaitTimeoutMS,
		"pollIntervalMs":   s.PollIntervalMS,
		"acquireTimeoutMs": s.AcquireTimeoutMS,
	} {
		if v.IsDefined() && v.IntValue() <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Credentials returns the test accounts, skipping blank emails.
func (s Settings) Credentials() []auth.Credential {
	var creds []auth.Credential
	for _, email := range s.Users {
		if email = strings.TrimSpace(email); email != "" {
			creds = append(creds, auth.Credential{Email: email, Password: s.Password})
		}
	}
	return creds
}

func (s Settings) BrowserKind() browser.Kind {
	if s.Browser == "" {
		return DefaultBrowser
	}
	return browser.ParseKind(s.Browser)
}

// IsHeadless defaults to true.
func (s Settings) IsHeadless() bool {
	return s.Headless == nil || *s.Headless
}

// EffectiveParallelism is the configured parallelism, or DefaultParallelism.
func (s Settings) EffectiveParallelism() int {
	return s.Parallelism.OrElse(DefaultParallelism)
}

// WaitTimeout returns the configured default wait timeout, or 0 to use the waiter's default.
func (s Settings) WaitTimeout() time.Duration {
	return millis(s.WaitTimeoutMS)
}

func (s Settings) PollInterval() time.Duration {
	return millis(s.PollIntervalMS)
}

func (s Settings) AcquireTimeout() time.Duration {
	return millis(s.AcquireTimeoutMS)
}

func millis(v ldvalue.OptionalInt) time.Duration {
	return time.Duration(v.OrElse(0)) * time.Millisecond
}
