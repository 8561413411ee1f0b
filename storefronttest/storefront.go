// Package storefronttest provides a fake storefront web server that behaves like the parts of an
// OpenCart shop the harness talks to: the home page, the account login form, logout, the
// account page, and the shopping cart.
package storefronttest

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

const (
	// SessionCookie is the name of the storefront's session cookie.
	SessionCookie = "OCSESSID"

	// LoginFailureMessage is the alert shown when a login is rejected.
	LoginFailureMessage = "Warning: No match for E-Mail Address and/or Password."
)

// Product is an item of the fake catalog.
type Product struct {
	Name  string
	Price float64
}

// Catalog is the set of products every Storefront sells, by product ID.
var Catalog = map[int]Product{
	30: {Name: "Canon EOS 5D", Price: 98.00},
	40: {Name: "iPhone", Price: 101.00},
	43: {Name: "MacBook", Price: 500.00},
}

type cartLine struct {
	key       string
	productID int
	quantity  int
}

// Storefront is the state of a fake shop: its registered users and its sessions. Every session
// starts as a guest session and becomes a customer session after a successful login. Each
// session has its own cart.
type Storefront struct {
	users     map[string]string
	sessions  map[string]string
	carts     map[string][]cartLine
	nextID    int
	logins    int
	logouts   int
	recording bool
	pages     http.Handler
	recorder  http.Handler
	requests  <-chan httphelpers.HTTPRequestInfo
	lock      sync.Mutex
}

type bodyKey struct{}

// New creates a Storefront whose users are given as email to password.
func New(users map[string]string) *Storefront {
	s := &Storefront{
		users:    make(map[string]string),
		sessions: make(map[string]string),
		carts:    make(map[string][]cartLine),
	}
	for email, password := range users {
		s.users[email] = password
	}
	routes := http.HandlerFunc(s.route)
	s.pages = httphelpers.HandlerForPath("/index.php", routes,
		httphelpers.HandlerForPath("/", routes, httphelpers.HandlerWithStatus(http.StatusNotFound)))
	s.recorder, s.requests = httphelpers.RecordingHandler(restoreBody(s.pages))
	return s
}

// Handler returns the HTTP handler serving the shop.
func (s *Storefront) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body.Close()
		}
		r = r.WithContext(context.WithValue(r.Context(), bodyKey{}, body))
		r.Body = io.NopCloser(bytes.NewReader(body))

		s.lock.Lock()
		recording := s.recording
		s.lock.Unlock()
		if recording {
			s.recorder.ServeHTTP(w, r)
		} else {
			s.pages.ServeHTTP(w, r)
		}
	})
}

// restoreBody gives the request back the body that Handler buffered, since the recorder
// consumes it.
func restoreBody(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if body, ok := r.Context().Value(bodyKey{}).([]byte); ok {
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		h.ServeHTTP(w, r)
	})
}

// Record starts recording requests and returns the channel that receives them. The channel
// holds up to 100 requests; the server blocks on the next one until the test reads it.
func (s *Storefront) Record() <-chan httphelpers.HTTPRequestInfo {
	s.lock.Lock()
	s.recording = true
	s.lock.Unlock()
	return s.requests
}

// Serve runs action against an HTTP server for the shop.
func (s *Storefront) Serve(action func(server *httptest.Server)) {
	httphelpers.WithServer(s.Handler(), action)
}

// CustomerFor returns the email of the customer logged in with the session token, if any.
func (s *Storefront) CustomerFor(token string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	email := s.sessions[token]
	return email, email != ""
}

// Logins returns the number of successful logins.
func (s *Storefront) Logins() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.logins
}

// Logouts returns the number of logouts of customer sessions.
func (s *Storefront) Logouts() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.logouts
}

func (s *Storefront) route(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("route") {
	case "", "common/home":
		s.home(w, r)
	case "account/login":
		if r.Method == http.MethodPost {
			s.login(w, r)
		} else {
			s.loginForm(w, r, "")
		}
	case "account/logout":
		s.logout(w, r)
	case "account/account":
		s.account(w, r)
	case "checkout/cart":
		s.cart(w, r)
	case "checkout/cart/add":
		s.addToCart(w, r)
	case "checkout/cart/edit":
		s.editCart(w, r)
	case "checkout/cart/remove":
		s.removeFromCart(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// session returns the request's session token, starting a guest session if it has none.
func (s *Storefront) session(w http.ResponseWriter, r *http.Request) (token, customer string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if c, err := r.Cookie(SessionCookie); err == nil {
		if email, ok := s.sessions[c.Value]; ok {
			return c.Value, email
		}
	}
	s.nextID++
	token = "sess" + strconv.Itoa(s.nextID)
	s.sessions[token] = ""
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", HttpOnly: true})
	return token, ""
}

func (s *Storefront) home(w http.ResponseWriter, r *http.Request) {
	_, customer := s.session(w, r)
	writePage(w, http.StatusOK, "Your Store", customer, `<div id="content"><h1>Featured</h1></div>`)
}

func (s *Storefront) loginForm(w http.ResponseWriter, r *http.Request, alert string) {
	_, customer := s.session(w, r)
	body := ""
	if alert != "" {
		body += `<div class="alert alert-danger alert-dismissible"><i class="fa fa-exclamation-circle"></i> ` +
			html.EscapeString(alert) + ` <button type="button" class="close" data-dismiss="alert">&times;</button></div>`
	}
	body += `<form action="/index.php?route=account/login" method="post" enctype="multipart/form-data">
<input type="text" name="email" id="input-email">
<input type="password" name="password" id="input-password">
<input type="submit" value="Login" class="btn btn-primary">
</form>`
	writePage(w, http.StatusOK, "Account Login", customer, body)
}

func (s *Storefront) login(w http.ResponseWriter, r *http.Request) {
	token, _ := s.session(w, r)
	email, password := r.FormValue("email"), r.FormValue("password")

	s.lock.Lock()
	expected, known := s.users[email]
	ok := known && expected == password
	if ok {
		delete(s.sessions, token)
		s.nextID++
		customerToken := "cust" + strconv.Itoa(s.nextID)
		s.sessions[customerToken] = email
		if lines, has := s.carts[token]; has {
			s.carts[customerToken] = lines
			delete(s.carts, token)
		}
		token = customerToken
		s.logins++
	}
	s.lock.Unlock()

	if !ok {
		s.loginForm(w, r, LoginFailureMessage)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token, Path: "/", HttpOnly: true})
	http.Redirect(w, r, "/index.php?route=account/account", http.StatusFound)
}

func (s *Storefront) logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.lock.Lock()
		if s.sessions[c.Value] != "" {
			s.logouts++
		}
		delete(s.sessions, c.Value)
		s.lock.Unlock()
	}
	http.Redirect(w, r, "/index.php?route=common/home", http.StatusFound)
}

func (s *Storefront) account(w http.ResponseWriter, r *http.Request) {
	_, customer := s.session(w, r)
	if customer == "" {
		http.Redirect(w, r, "/index.php?route=account/login", http.StatusFound)
		return
	}
	writePage(w, http.StatusOK, "My Account", customer,
		fmt.Sprintf(`<div id="content"><h2>My Account</h2><p class="customer">%s</p></div>`, html.EscapeString(customer)))
}

// CartQuantities returns the quantity of each product in the session's cart.
func (s *Storefront) CartQuantities(token string) map[int]int {
	s.lock.Lock()
	defer s.lock.Unlock()
	quantities := make(map[int]int)
	for _, line := range s.carts[token] {
		quantities[line.productID] += line.quantity
	}
	return quantities
}

func (s *Storefront) cart(w http.ResponseWriter, r *http.Request) {
	token, customer := s.session(w, r)
	s.lock.Lock()
	lines := append([]cartLine(nil), s.carts[token]...)
	s.lock.Unlock()

	var rows strings.Builder
	total := 0.0
	for _, line := range lines {
		p := Catalog[line.productID]
		total += p.Price * float64(line.quantity)
		fmt.Fprintf(&rows, `<tr><td class="text-left"><a href="/index.php?route=product/product&amp;product_id=%d">%s</a></td>
<td class="text-left"><input type="text" name="quantity[%s]" value="%d" size="1" class="form-control"></td></tr>
`, line.productID, html.EscapeString(p.Name), line.key, line.quantity)
	}
	content := `<div id="content"><h1>Shopping Cart</h1><p>Your shopping cart is empty!</p></div>`
	if len(lines) > 0 {
		content = fmt.Sprintf(`<div id="content"><h1>Shopping Cart</h1>
<form action="/index.php?route=checkout/cart/edit" method="post"><table class="table">%s</table></form>
<table id="totals"><tr><td><strong>Sub-Total:</strong></td><td>$%.2f</td></tr></table></div>`, rows.String(), total)
	}
	writePage(w, http.StatusOK, "Shopping Cart", customer, content)
}

func (s *Storefront) addToCart(w http.ResponseWriter, r *http.Request) {
	token, _ := s.session(w, r)
	productID, _ := strconv.Atoi(r.FormValue("product_id"))
	quantity, err := strconv.Atoi(r.FormValue("quantity"))
	if err != nil || quantity < 1 {
		quantity = 1
	}
	product, ok := Catalog[productID]
	if !ok {
		writeJSON(w, ldvalue.ObjectBuild().
			Set("error", ldvalue.ObjectBuild().Set("product", ldvalue.String("Product not found!")).Build()).Build())
		return
	}

	s.lock.Lock()
	added := false
	for i, line := range s.carts[token] {
		if line.productID == productID {
			s.carts[token][i].quantity += quantity
			added = true
		}
	}
	if !added {
		s.nextID++
		s.carts[token] = append(s.carts[token], cartLine{key: strconv.Itoa(1000 + s.nextID), productID: productID, quantity: quantity})
	}
	s.lock.Unlock()

	writeJSON(w, ldvalue.ObjectBuild().
		Set("success", ldvalue.String("Success: You have added "+product.Name+" to your shopping cart!")).Build())
}

// editCart applies form fields named quantity[key]; a quantity below 1 removes the line.
func (s *Storefront) editCart(w http.ResponseWriter, r *http.Request) {
	token, _ := s.session(w, r)
	_ = r.ParseForm()
	s.lock.Lock()
	var kept []cartLine
	for _, line := range s.carts[token] {
		if v, ok := r.PostForm["quantity["+line.key+"]"]; ok && len(v) > 0 {
			if q, err := strconv.Atoi(v[0]); err == nil {
				line.quantity = q
			}
		}
		if line.quantity > 0 {
			kept = append(kept, line)
		}
	}
	s.carts[token] = kept
	s.lock.Unlock()
	http.Redirect(w, r, "/index.php?route=checkout/cart", http.StatusFound)
}

// removeFromCart removes the line with the posted key. Without a key it removes nothing and
// still succeeds.
func (s *Storefront) removeFromCart(w http.ResponseWriter, r *http.Request) {
	token, _ := s.session(w, r)
	key := r.FormValue("key")
	s.lock.Lock()
	var kept []cartLine
	for _, line := range s.carts[token] {
		if line.key != key {
			kept = append(kept, line)
		}
	}
	s.carts[token] = kept
	items := 0
	for _, line := range kept {
		items += line.quantity
	}
	s.lock.Unlock()
	writeJSON(w, ldvalue.ObjectBuild().
		Set("success", ldvalue.String("Success: You have modified your shopping cart!")).
		Set("total", ldvalue.String(fmt.Sprintf("%d item(s)", items))).Build())
}

func writeJSON(w http.ResponseWriter, value ldvalue.Value) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(value.JSONString()))
}

func writePage(w http.ResponseWriter, status int, title, customer, content string) {
	menu := `<li><a href="/index.php?route=account/login">Login</a></li>`
	if customer != "" {
		menu = `<li><a href="/index.php?route=account/logout">Logout</a></li>`
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>%s</title></head>
<body>
<nav id="top"><ul class="list-inline">
<li class="dropdown"><a href="/index.php?route=account/account" title="My Account" class="dropdown-toggle">My Account</a>
<ul class="dropdown-menu">%s</ul></li>
</ul></nav>
%s
</body></html>`, html.EscapeString(title), menu, content)
}
