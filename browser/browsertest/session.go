// Package browsertest provides an in-memory browser.Session whose page contents and element
// behavior are scripted by the test.
package browsertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/storefront-qa/storefront-e2e-tests/browser"
)

// ErrNoScriptHandler is returned by Evaluate for scripts the Session does not recognize.
var ErrNoScriptHandler = errors.New("browsertest: no handler for script")

// Session is a fake browser.Session. Page state is whatever the test has configured; nothing
// is fetched over the network.
//
// Scripts mentioning document.readyState return the configured ready states in turn (the last
// one repeats). Scripts mentioning jQuery return the configured background-work value. Other
// scripts go to handlers registered with HandleScript.
type Session struct {
	kind           browser.Kind
	url            string
	readyStates    []string
	backgroundWork interface{}
	scriptHandlers map[string]func() (interface{}, error)
	elements       map[browser.Locator][]*Element
	lookupErrors   map[browser.Locator]error
	cookies        []browser.Cookie
	onNavigate     func(s *Session, url string)
	navigations    []string
	reloads        int
	closeCount     int
	closeErr       error
	lock           sync.Mutex
}

// NewSession returns a Session showing about:blank whose document is already loaded and which
// has no jQuery.
func NewSession(kind browser.Kind) *Session {
	return &Session{
		kind:           kind,
		url:            "about:blank",
		readyStates:    []string{"complete"},
		backgroundWork: "absent",
		scriptHandlers: make(map[string]func() (interface{}, error)),
		elements:       make(map[browser.Locator][]*Element),
		lookupErrors:   make(map[browser.Locator]error),
	}
}

// Engine returns a browser.Engine that hands out the given sessions in order and fails once
// they run out.
func Engine(sessions ...*Session) browser.Engine {
	var lock sync.Mutex
	return browser.EngineFunc(func(cfg browser.Config) (browser.Session, error) {
		lock.Lock()
		defer lock.Unlock()
		if len(sessions) == 0 {
			return nil, errors.New("browsertest: no more sessions")
		}
		s := sessions[0]
		sessions = sessions[1:]
		return s, nil
	})
}

func (s *Session) SetURL(url string) {
	s.lock.Lock()
	s.url = url
	s.lock.Unlock()
}

// SetReadyStates sets the successive values of document.readyState.
func (s *Session) SetReadyStates(states ...string) {
	s.lock.Lock()
	s.readyStates = states
	s.lock.Unlock()
}

// SetBackgroundWork sets what the jQuery idle check returns: "absent", true, false, or an error.
func (s *Session) SetBackgroundWork(value interface{}) {
	s.lock.Lock()
	s.backgroundWork = value
	s.lock.Unlock()
}

// HandleScript registers the result of an exact script.
func (s *Session) HandleScript(script string, handler func() (interface{}, error)) {
	s.lock.Lock()
	s.scriptHandlers[script] = handler
	s.lock.Unlock()
}

// OnNavigate registers a hook called after every Navigate and Reload, with the lock released.
func (s *Session) OnNavigate(fn func(s *Session, url string)) {
	s.lock.Lock()
	s.onNavigate = fn
	s.lock.Unlock()
}

// AddElement makes el one of the elements matching locator.
func (s *Session) AddElement(locator browser.Locator, el *Element) *Element {
	s.lock.Lock()
	s.elements[locator] = append(s.elements[locator], el)
	s.lock.Unlock()
	return el
}

// RemoveElements makes locator match nothing.
func (s *Session) RemoveElements(locator browser.Locator) {
	s.lock.Lock()
	delete(s.elements, locator)
	s.lock.Unlock()
}

// FailLookups makes every lookup of locator return err.
func (s *Session) FailLookups(locator browser.Locator, err error) {
	s.lock.Lock()
	s.lookupErrors[locator] = err
	s.lock.Unlock()
}

// FailClose makes Close return err.
func (s *Session) FailClose(err error) {
	s.lock.Lock()
	s.closeErr = err
	s.lock.Unlock()
}

func (s *Session) Navigations() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.navigations...)
}

func (s *Session) Reloads() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reloads
}

func (s *Session) Cookies() []browser.Cookie {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]browser.Cookie(nil), s.cookies...)
}

func (s *Session) CloseCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closeCount
}

func (s *Session) Kind() browser.Kind { return s.kind }

func (s *Session) Navigate(url string) error {
	s.lock.Lock()
	if s.closeCount > 0 {
		s.lock.Unlock()
		return errors.New("browsertest: session is closed")
	}
	s.url = url
	s.navigations = append(s.navigations, url)
	hook := s.onNavigate
	s.lock.Unlock()
	if hook != nil {
		hook(s, url)
	}
	return nil
}

func (s *Session) Reload() error {
	s.lock.Lock()
	s.reloads++
	url := s.url
	hook := s.onNavigate
	s.lock.Unlock()
	if hook != nil {
		hook(s, url)
	}
	return nil
}

func (s *Session) URL() (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.url, nil
}

func (s *Session) Evaluate(fn string) (interface{}, error) {
	s.lock.Lock()
	if h, ok := s.scriptHandlers[fn]; ok {
		s.lock.Unlock()
		return h()
	}
	defer s.lock.Unlock()
	switch {
	case strings.Contains(fn, "document.readyState"):
		state := s.readyStates[0]
		if len(s.readyStates) > 1 {
			s.readyStates = s.readyStates[1:]
		}
		return state, nil
	case strings.Contains(fn, "jQuery"):
		if err, ok := s.backgroundWork.(error); ok {
			return nil, err
		}
		return s.backgroundWork, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoScriptHandler, fn)
}

func (s *Session) FindElements(locator browser.Locator) ([]browser.Element, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if err := s.lookupErrors[locator]; err != nil {
		return nil, err
	}
	found := s.elements[locator]
	elements := make([]browser.Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, el)
	}
	return elements, nil
}

func (s *Session) SetCookie(cookie browser.Cookie) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, c := range s.cookies {
		if c.Name == cookie.Name {
			s.cookies[i] = cookie
			return nil
		}
	}
	s.cookies = append(s.cookies, cookie)
	return nil
}

func (s *Session) DeleteCookies() error {
	s.lock.Lock()
	s.cookies = nil
	s.lock.Unlock()
	return nil
}

func (s *Session) Screenshot() ([]byte, error) {
	// The PNG signature is enough for anything that only stores the bytes.
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (s *Session) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeCount++
	return s.closeErr
}
