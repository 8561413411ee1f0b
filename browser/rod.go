package browser

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
)

type rodEngine struct {
	loggers ldlog.Loggers
}

// NewRodEngine returns the Chrome engine. Local sessions launch their own Chrome process;
// remote sessions connect to a DevTools endpoint such as ws://grid:9222.
func NewRodEngine(loggers ldlog.Loggers) Engine {
	return &rodEngine{loggers: loggers}
}

func (e *rodEngine) Open(cfg Config) (Session, error) {
	var (
		l          *launcher.Launcher
		controlURL string
		err        error
	)
	if cfg.Endpoint.IsRemote() {
		controlURL, err = launcher.ResolveURL(cfg.Endpoint.URL())
		if err != nil {
			return nil, fmt.Errorf("failed to reach remote Chrome at %s: %w", cfg.Endpoint, err)
		}
	} else {
		l = launcher.New().
			Headless(cfg.Headless).
			Set("no-sandbox").
			Set("disable-gpu").
			Set("window-size", fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height))
		for _, arg := range cfg.ExtraArgs {
			name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
			if hasValue {
				l = l.Set(flags.Flag(name), value)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		if len(cfg.ExtraArgs) > 0 {
			e.loggers.Infof("Chrome options applied: %s", shellescape.QuoteCommand(cfg.ExtraArgs))
		}
		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch Chrome: %w", err)
		}
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}
	s := &rodSession{
		browser:       b,
		launcher:      l,
		navTimeout:    cfg.NavigationTimeout,
		scriptTimeout: cfg.ScriptTimeout,
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err == nil {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Viewport.Width,
			Height:            cfg.Viewport.Height,
			DeviceScaleFactor: 1,
		})
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to open Chrome page: %w", err)
	}
	s.page = page
	return s, nil
}

type rodSession struct {
	browser       *rod.Browser
	page          *rod.Page
	launcher      *launcher.Launcher
	navTimeout    time.Duration
	scriptTimeout time.Duration
}

func (s *rodSession) Kind() Kind { return Chrome }

func (s *rodSession) Navigate(target string) error {
	return s.page.Timeout(s.navTimeout).Navigate(target)
}

func (s *rodSession) Reload() error {
	return s.page.Timeout(s.navTimeout).Reload()
}

func (s *rodSession) URL() (string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *rodSession) Evaluate(fn string) (interface{}, error) {
	result, err := s.page.Timeout(s.scriptTimeout).Eval(fn)
	if err != nil {
		return nil, err
	}
	return result.Value.Val(), nil
}

func (s *rodSession) FindElements(locator Locator) ([]Element, error) {
	var (
		found rod.Elements
		err   error
	)
	switch locator.Strategy {
	case ByXPath:
		found, err = s.page.ElementsX(locator.Value)
	default:
		found, err = s.page.Elements(locator.Value)
	}
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, rodElement{el: el, timeout: s.scriptTimeout})
	}
	return elements, nil
}

func (s *rodSession) SetCookie(cookie Cookie) error {
	param := &proto.NetworkCookieParam{
		Name:     cookie.Name,
		Value:    cookie.Value,
		URL:      cookie.URL,
		Domain:   cookie.Domain,
		Path:     cookie.Path,
		HTTPOnly: cookie.HTTPOnly,
		Secure:   cookie.Secure,
	}
	if param.URL == "" && param.Domain == "" {
		current, err := s.URL()
		if err != nil {
			return err
		}
		if u, err := url.Parse(current); err == nil {
			param.Domain = u.Hostname()
		}
	}
	return s.page.SetCookies([]*proto.NetworkCookieParam{param})
}

func (s *rodSession) DeleteCookies() error {
	return s.browser.SetCookies(nil)
}

func (s *rodSession) Screenshot() ([]byte, error) {
	return s.page.Screenshot(false, nil)
}

func (s *rodSession) Close() error {
	err := s.browser.Close()
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	return err
}

type rodElement struct {
	el      *rod.Element
	timeout time.Duration
}

func (e rodElement) Displayed() (bool, error) {
	return e.el.Visible()
}

func (e rodElement) Enabled() (bool, error) {
	disabled, err := e.el.Property("disabled")
	if err != nil {
		return false, err
	}
	return !disabled.Bool(), nil
}

func (e rodElement) ScrollIntoView() error {
	return e.el.ScrollIntoView()
}

func (e rodElement) Click() error {
	return e.el.Timeout(e.timeout).Click(proto.InputMouseButtonLeft, 1)
}

func (e rodElement) ScriptClick() error {
	_, err := e.el.Eval(`() => this.click()`)
	return err
}

func (e rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e rodElement) Type(text string) error {
	el := e.el.Timeout(e.timeout)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}
