package browser

import (
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
)

type playwrightEngine struct {
	loggers ldlog.Loggers
	pw      *playwright.Playwright
	lock    sync.Mutex
}

// NewPlaywrightEngine returns the Firefox engine. The Playwright driver is installed and started
// on first use; remote sessions connect to a Playwright server's WebSocket endpoint.
func NewPlaywrightEngine(loggers ldlog.Loggers) Engine {
	return &playwrightEngine{loggers: loggers}
}

func (e *playwrightEngine) start() (*playwright.Playwright, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.pw != nil {
		return e.pw, nil
	}
	opts := &playwright.RunOptions{
		Browsers: []string{"firefox"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	e.loggers.Debug("Started playwright driver")
	e.pw = pw
	return pw, nil
}

func (e *playwrightEngine) Open(cfg Config) (Session, error) {
	pw, err := e.start()
	if err != nil {
		return nil, err
	}

	var b playwright.Browser
	if cfg.Endpoint.IsRemote() {
		b, err = pw.Firefox.Connect(cfg.Endpoint.URL())
	} else {
		b, err = pw.Firefox.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(cfg.Headless),
			Args:     cfg.ExtraArgs,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start Firefox: %w", err)
	}

	bc, err := b.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: cfg.Viewport.Width, Height: cfg.Viewport.Height},
	})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bc.NewPage()
	if err != nil {
		_ = bc.Close()
		_ = b.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultNavigationTimeout(millis(cfg.NavigationTimeout))
	page.SetDefaultTimeout(millis(cfg.ScriptTimeout))

	return &playwrightSession{browser: b, context: bc, page: page, timeout: cfg.ScriptTimeout}, nil
}

// Close stops the Playwright driver process.
func (e *playwrightEngine) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.pw == nil {
		return nil
	}
	err := e.pw.Stop()
	e.pw = nil
	return err
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}

type playwrightSession struct {
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
}

func (s *playwrightSession) Kind() Kind { return Firefox }

func (s *playwrightSession) Navigate(target string) error {
	_, err := s.page.Goto(target)
	return err
}

func (s *playwrightSession) Reload() error {
	_, err := s.page.Reload()
	return err
}

func (s *playwrightSession) URL() (string, error) {
	return s.page.URL(), nil
}

func (s *playwrightSession) Evaluate(fn string) (interface{}, error) {
	return s.page.Evaluate(fn)
}

func (s *playwrightSession) FindElements(locator Locator) ([]Element, error) {
	selector := "css=" + locator.Value
	if locator.Strategy == ByXPath {
		selector = "xpath=" + locator.Value
	}
	handles, err := s.page.QuerySelectorAll(selector)
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(handles))
	for _, h := range handles {
		elements = append(elements, playwrightElement{handle: h, timeout: s.timeout})
	}
	return elements, nil
}

func (s *playwrightSession) SetCookie(cookie Cookie) error {
	c := playwright.OptionalCookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		HttpOnly: playwright.Bool(cookie.HTTPOnly),
		Secure:   playwright.Bool(cookie.Secure),
	}
	switch {
	case cookie.URL != "":
		c.URL = playwright.String(cookie.URL)
	case cookie.Domain != "":
		c.Domain = playwright.String(cookie.Domain)
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		c.Path = playwright.String(path)
	default:
		u, err := url.Parse(s.page.URL())
		if err != nil {
			return err
		}
		c.URL = playwright.String(u.Scheme + "://" + u.Host)
	}
	return s.context.AddCookies([]playwright.OptionalCookie{c})
}

func (s *playwrightSession) DeleteCookies() error {
	return s.context.ClearCookies()
}

func (s *playwrightSession) Screenshot() ([]byte, error) {
	return s.page.Screenshot()
}

func (s *playwrightSession) Close() error {
	_ = s.context.Close()
	return s.browser.Close()
}

type playwrightElement struct {
	handle  playwright.ElementHandle
	timeout time.Duration
}

func (e playwrightElement) Displayed() (bool, error) {
	return e.handle.IsVisible()
}

func (e playwrightElement) Enabled() (bool, error) {
	return e.handle.IsEnabled()
}

func (e playwrightElement) ScrollIntoView() error {
	return e.handle.ScrollIntoViewIfNeeded()
}

func (e playwrightElement) Click() error {
	return e.handle.Click(playwright.ElementHandleClickOptions{
		Timeout: playwright.Float(millis(e.timeout)),
	})
}

func (e playwrightElement) ScriptClick() error {
	_, err := e.handle.Evaluate(`el => el.click()`)
	return err
}

func (e playwrightElement) Text() (string, error) {
	return e.handle.InnerText()
}

func (e playwrightElement) Type(text string) error {
	return e.handle.Fill(text)
}
