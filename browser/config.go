package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Kind is a browser family.
type Kind string

const (
	Chrome  Kind = "chrome"
	Firefox Kind = "firefox"
)

// ParseKind parses a browser name case-insensitively. It does not check whether an engine is
// available for the kind; the Manager does that.
func ParseKind(name string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(name)))
}

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultScriptTimeout     = 30 * time.Second
)

// DefaultViewport is the fixed window size sessions get unless configured otherwise.
var DefaultViewport = Viewport{Width: 1920, Height: 1080}

// Viewport is a window size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// Endpoint says where a browser runs: on this machine, or behind a remote control URL.
type Endpoint struct {
	url string
}

// Local is the endpoint for browsers launched on this machine.
func Local() Endpoint { return Endpoint{} }

// Remote is the endpoint for browsers reached through a remote execution grid.
func Remote(controlURL string) Endpoint { return Endpoint{url: controlURL} }

func (e Endpoint) IsRemote() bool { return e.url != "" }

// URL returns the remote control URL, or "" for a local endpoint.
func (e Endpoint) URL() string { return e.url }

func (e Endpoint) String() string {
	if e.url == "" {
		return "local"
	}
	return e.url
}

func (e Endpoint) validate() error {
	if e.url == "" {
		return nil
	}
	u, err := url.Parse(e.url)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEndpoint, err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("%w: unsupported scheme %q in %s", ErrMalformedEndpoint, u.Scheme, e.url)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: no host in %s", ErrMalformedEndpoint, e.url)
	}
	return nil
}

// Config describes the session to create.
type Config struct {
	Kind              Kind
	Headless          bool
	Endpoint          Endpoint
	ExtraArgs         []string
	Viewport          Viewport
	NavigationTimeout time.Duration
	ScriptTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		c.Viewport = DefaultViewport
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.ScriptTimeout <= 0 {
		c.ScriptTimeout = DefaultScriptTimeout
	}
	return c
}

// Environment holds the process environment variables that affect where browsers run.
type Environment struct {
	// Mode is "local", "grid", or empty to decide from the CI signals below.
	Mode string `env:"BROWSER_MODE"`

	// GridURL overrides the remote control URL.
	GridURL string `env:"GRID_URL"`

	JenkinsHome string `env:"JENKINS_HOME"`
	CI          bool   `env:"CI"`

	// ChromeOpts holds extra Chrome command-line switches, separated by spaces.
	ChromeOpts []string `env:"CHROME_OPTS" envSeparator:" "`
}

const (
	jenkinsGridURL = "ws://selenium-hub:9222"
	localGridURL   = "ws://localhost:9222"
)

// ParseEnvironment reads the Environment from vars, or from the process environment if vars
// is nil.
func ParseEnvironment(vars map[string]string) (Environment, error) {
	var e Environment
	if err := env.ParseWithOptions(&e, env.Options{Environment: vars}); err != nil {
		return Environment{}, fmt.Errorf("invalid browser environment: %w", err)
	}
	return e, nil
}

// UnderCI reports whether a recognized continuous-integration signal is present.
func (e Environment) UnderCI() bool {
	return e.JenkinsHome != "" || e.CI
}

// ResolveEndpoint picks the execution endpoint. An explicit Mode wins; otherwise a CI signal
// selects the remote grid and anything else runs locally. The grid URL defaults to the
// in-cluster hub under Jenkins and to localhost elsewhere.
func ResolveEndpoint(e Environment) (Endpoint, error) {
	gridURL := e.GridURL
	if gridURL == "" {
		gridURL = localGridURL
		if e.JenkinsHome != "" {
			gridURL = jenkinsGridURL
		}
	}
	switch strings.ToLower(e.Mode) {
	case "local":
		return Local(), nil
	case "grid", "remote":
		return Remote(gridURL), nil
	case "":
		if e.UnderCI() {
			return Remote(gridURL), nil
		}
		return Local(), nil
	default:
		return Endpoint{}, fmt.Errorf("unknown BROWSER_MODE %q (expected local or grid)", e.Mode)
	}
}
