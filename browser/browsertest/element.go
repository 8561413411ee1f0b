package browsertest

import (
	"sync"
)

// Element is a fake browser.Element. It starts displayed and enabled with no text.
type Element struct {
	displayed      bool
	enabled        bool
	text           string
	typed          []string
	clickErrors    []error
	scriptClickErr error
	onClick        func()
	clicks         int
	scriptClicks   int
	scrolls        int
	lock           sync.Mutex
}

func NewElement() *Element {
	return &Element{displayed: true, enabled: true}
}

func (e *Element) WithText(text string) *Element {
	e.lock.Lock()
	e.text = text
	e.lock.Unlock()
	return e
}

func (e *Element) SetDisplayed(displayed bool) {
	e.lock.Lock()
	e.displayed = displayed
	e.lock.Unlock()
}

func (e *Element) SetEnabled(enabled bool) {
	e.lock.Lock()
	e.enabled = enabled
	e.lock.Unlock()
}

// FailClicks makes the next native clicks return the given errors, one per click. A nil entry
// lets that click succeed.
func (e *Element) FailClicks(errs ...error) *Element {
	e.lock.Lock()
	e.clickErrors = append(e.clickErrors, errs...)
	e.lock.Unlock()
	return e
}

// FailScriptClicks makes every script click return err.
func (e *Element) FailScriptClicks(err error) *Element {
	e.lock.Lock()
	e.scriptClickErr = err
	e.lock.Unlock()
	return e
}

// OnClick registers a hook run after every successful click, native or scripted.
func (e *Element) OnClick(fn func()) *Element {
	e.lock.Lock()
	e.onClick = fn
	e.lock.Unlock()
	return e
}

// Clicks returns how many native clicks were attempted.
func (e *Element) Clicks() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.clicks
}

func (e *Element) ScriptClicks() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.scriptClicks
}

func (e *Element) Scrolls() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.scrolls
}

// Typed returns every value passed to Type, in order.
func (e *Element) Typed() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.typed...)
}

func (e *Element) Displayed() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.displayed, nil
}

func (e *Element) Enabled() (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.enabled, nil
}

func (e *Element) ScrollIntoView() error {
	e.lock.Lock()
	e.scrolls++
	e.lock.Unlock()
	return nil
}

func (e *Element) Click() error {
	e.lock.Lock()
	e.clicks++
	var err error
	if len(e.clickErrors) > 0 {
		err = e.clickErrors[0]
		e.clickErrors = e.clickErrors[1:]
	}
	hook := e.onClick
	e.lock.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (e *Element) ScriptClick() error {
	e.lock.Lock()
	e.scriptClicks++
	err := e.scriptClickErr
	hook := e.onClick
	e.lock.Unlock()
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (e *Element) Text() (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.text, nil
}

func (e *Element) Type(text string) error {
	e.lock.Lock()
	e.text = text
	e.typed = append(e.typed, text)
	e.lock.Unlock()
	return nil
}
