package browser

import (
	"fmt"
	"strings"
)

// Session is a single automated browser session. It is owned by exactly one execution context
// for its whole lifetime and is not safe for concurrent use.
//
// Element lookups never wait; waiting is the job of the wait package.
type Session interface {
	Kind() Kind
	Navigate(url string) error
	Reload() error
	URL() (string, error)

	// Evaluate runs a JavaScript function expression such as "() => document.title" in the page
	// and returns its JSON-decoded result.
	Evaluate(fn string) (interface{}, error)

	// FindElements returns the elements currently matching the locator, or an empty slice.
	FindElements(locator Locator) ([]Element, error)

	SetCookie(cookie Cookie) error
	DeleteCookies() error
	Screenshot() ([]byte, error)
	Close() error
}

// Element is a handle to an element of the page a Session is showing.
type Element interface {
	Displayed() (bool, error)
	Enabled() (bool, error)
	ScrollIntoView() error

	// Click performs a native, user-like click.
	Click() error

	// ScriptClick dispatches a click from script. It ignores overlays and occlusion, so it can
	// reach elements a real user could not.
	ScriptClick() error

	Text() (string, error)

	// Type replaces the element's current value with text.
	Type(text string) error
}

// Cookie is a browser cookie. Either URL or Domain should be set.
type Cookie struct {
	Name     string
	Value    string
	URL      string
	Domain   string
	Path     string
	HTTPOnly bool
	Secure   bool
}

// Strategy is the kind of query a Locator holds.
type Strategy int

const (
	ByCSS Strategy = iota
	ByXPath
)

// Locator identifies elements on a page.
type Locator struct {
	Strategy Strategy
	Value    string
	label    string
}

// CSS locates elements by CSS selector.
func CSS(selector string) Locator {
	return Locator{Strategy: ByCSS, Value: selector}
}

// XPath locates elements by XPath expression.
func XPath(expr string) Locator {
	return Locator{Strategy: ByXPath, Value: expr}
}

// LinkText locates anchors whose whitespace-normalized text equals text.
func LinkText(text string) Locator {
	return Locator{
		Strategy: ByXPath,
		Value:    "//a[normalize-space(.)=" + xpathLiteral(text) + "]",
		label:    fmt.Sprintf("link text %q", text),
	}
}

func (l Locator) String() string {
	if l.label != "" {
		return l.label
	}
	switch l.Strategy {
	case ByXPath:
		return fmt.Sprintf("xpath %q", l.Value)
	default:
		return fmt.Sprintf("css %q", l.Value)
	}
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+p+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}
