package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/httphelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlogtest"

	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/browser/browsertest"
	"github.com/storefront-qa/storefront-e2e-tests/storefronttest"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

const owner = "ctx-1"

var shopper = Credential{Email: "user1@example.com", Password: "secret1"}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

type bridgeFixture struct {
	bridge  *Bridge
	session *browsertest.Session
	mockLog *ldlogtest.MockLog
}

func newBridge(t *testing.T, baseURL string, client Doer) bridgeFixture {
	session := browsertest.NewSession(browser.Chrome)
	browsers := browser.NewManager(browser.WithEngine(browser.Chrome, browsertest.Engine(session)))
	_, err := browsers.Create(owner, browser.Config{Kind: browser.Chrome})
	require.NoError(t, err)

	mockLog := ldlogtest.NewMockLog()
	b := NewBridge(Config{BaseURL: baseURL + "/"}, client, browsers, owner,
		WithLoggers(mockLog.Loggers),
		WithWaitOptions(wait.WithClock(wait.NewStepClock())),
	)
	return bridgeFixture{bridge: b, session: session, mockLog: mockLog}
}

func withShop(t *testing.T, action func(shop *storefronttest.Storefront, f bridgeFixture)) {
	shop := storefronttest.New(map[string]string{shopper.Email: shopper.Password})
	shop.Serve(func(server *httptest.Server) {
		action(shop, newBridge(t, server.URL, NewHTTPClient(5*time.Second)))
	})
}

func TestLoginViaAPI(t *testing.T) {
	withShop(t, func(shop *storefronttest.Storefront, f bridgeFixture) {
		requests := shop.Record()
		assert.Equal(t, Anonymous, f.bridge.State())

		token, err := f.bridge.LoginViaAPI(context.Background(), shopper)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, Authenticated(token), f.bridge.State())

		email, ok := shop.CustomerFor(token)
		assert.True(t, ok)
		assert.Equal(t, shopper.Email, email)

		info := <-requests
		assert.Equal(t, http.MethodPost, info.Request.Method)
		assert.Equal(t, "account/login", info.Request.URL.Query().Get("route"))
		assert.Equal(t, "email=user1%40example.com&password=secret1", string(info.Body))
	})
}

func TestLoginViaAPIRejectedCredentials(t *testing.T) {
	withShop(t, func(shop *storefronttest.Storefront, f bridgeFixture) {
		_, err := f.bridge.LoginViaAPI(context.Background(), Credential{Email: shopper.Email, Password: "wrong"})
		require.Error(t, err)

		var ae *AuthenticationError
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, shopper.Email, ae.Email)
		assert.Contains(t, ae.Reason, storefronttest.LoginFailureMessage)
		assert.NotContains(t, err.Error(), "wrong")
		assert.True(t, errors.Is(err, ErrAuthentication))

		assert.Equal(t, Anonymous, f.bridge.State())
		assert.Equal(t, 0, shop.Logins())
		assert.Len(t, f.mockLog.GetOutput(ldlog.Error), 1)
	})
}

func TestLoginViaAPIWhileAuthenticated(t *testing.T) {
	withShop(t, func(shop *storefronttest.Storefront, f bridgeFixture) {
		_, err := f.bridge.LoginViaAPI(context.Background(), shopper)
		require.NoError(t, err)

		_, err = f.bridge.LoginViaAPI(context.Background(), shopper)
		assert.Equal(t, ErrAlreadyAuthenticated, err)
		assert.Equal(t, 1, shop.Logins())
	})
}

func TestLoginViaAPIWithoutSessionCookie(t *testing.T) {
	handler := httphelpers.HandlerWithResponse(http.StatusOK, nil, []byte("<html><body>Welcome</body></html>"))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		f := newBridge(t, server.URL, NewHTTPClient(time.Second))

		_, err := f.bridge.LoginViaAPI(context.Background(), shopper)
		var ae *AuthenticationError
		require.True(t, errors.As(err, &ae))
		assert.Contains(t, ae.Reason, "no OCSESSID cookie")
	})
}

func TestLoginViaAPIServerError(t *testing.T) {
	httphelpers.WithServer(httphelpers.HandlerWithStatus(http.StatusServiceUnavailable), func(server *httptest.Server) {
		f := newBridge(t, server.URL, NewHTTPClient(time.Second))

		_, err := f.bridge.LoginViaAPI(context.Background(), shopper)
		var ae *AuthenticationError
		require.True(t, errors.As(err, &ae))
		assert.Contains(t, ae.Reason, "503")
	})
}

func TestLoginViaAPITransportErrorIsNotRetried(t *testing.T) {
	cause := errors.New("connection refused")
	calls := 0
	f := newBridge(t, "http://shop.invalid", doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, cause
	}))

	_, err := f.bridge.LoginViaAPI(context.Background(), shopper)
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 1, calls)
	assert.Equal(t, Anonymous, f.bridge.State())
}

func TestInjectIntoBrowser(t *testing.T) {
	f := newBridge(t, "https://shop.example.com", nil)
	target := "https://shop.example.com/index.php?route=common/home"

	require.NoError(t, f.bridge.InjectIntoBrowser("cust42", target))

	assert.Equal(t, []string{target}, f.session.Navigations())
	assert.Equal(t, 1, f.session.Reloads())
	assert.Equal(t, []browser.Cookie{{Name: "OCSESSID", Value: "cust42", Domain: "shop.example.com", Path: "/"}},
		f.session.Cookies())
}

func TestInjectIntoBrowserSetsCookieBeforeReload(t *testing.T) {
	f := newBridge(t, "https://shop.example.com", nil)
	var cookiesAtReload []browser.Cookie
	f.session.OnNavigate(func(s *browsertest.Session, url string) {
		if s.Reloads() == 1 {
			cookiesAtReload = s.Cookies()
		}
	})

	require.NoError(t, f.bridge.InjectIntoBrowser("cust42", "https://shop.example.com/"))
	require.Len(t, cookiesAtReload, 1)
	assert.Equal(t, "cust42", cookiesAtReload[0].Value)
}

func TestInjectIntoBrowserFailsIfPageNeverLoads(t *testing.T) {
	f := newBridge(t, "https://shop.example.com", nil)
	f.session.SetReadyStates("loading")

	err := f.bridge.InjectIntoBrowser("cust42", "https://shop.example.com/")
	assert.True(t, errors.Is(err, wait.ErrTimeout))
	assert.Empty(t, f.session.Cookies())
}

func TestInjectIntoBrowserWithoutSession(t *testing.T) {
	b := NewBridge(Config{BaseURL: "https://shop.example.com"}, nil, browser.NewManager(), "nobody")

	err := b.InjectIntoBrowser("cust42", "https://shop.example.com/")
	assert.True(t, errors.Is(err, browser.ErrNoActiveSession))
}

func TestVerify(t *testing.T) {
	f := newBridge(t, "https://shop.example.com", nil)
	assert.False(t, f.bridge.Verify())
	assert.Len(t, f.mockLog.GetOutput(ldlog.Warn), 1)

	f.session.AddElement(browser.LinkText("My Account"), browsertest.NewElement())
	assert.True(t, f.bridge.Verify())
}

func TestLogout(t *testing.T) {
	withShop(t, func(shop *storefronttest.Storefront, f bridgeFixture) {
		token, err := f.bridge.LoginViaAPI(context.Background(), shopper)
		require.NoError(t, err)

		f.bridge.Logout(context.Background())
		assert.Equal(t, Anonymous, f.bridge.State())
		assert.Equal(t, 1, shop.Logouts())
		_, ok := shop.CustomerFor(token)
		assert.False(t, ok)

		f.bridge.Logout(context.Background())
		assert.Equal(t, 1, shop.Logouts())
	})
}

func TestLogoutWhileAnonymousSendsNothing(t *testing.T) {
	f := newBridge(t, "http://shop.invalid", doerFunc(func(*http.Request) (*http.Response, error) {
		t.Fatal("unexpected request")
		return nil, nil
	}))
	f.bridge.Logout(context.Background())
	assert.Equal(t, Anonymous, f.bridge.State())
}

func TestLogoutIgnoresErrors(t *testing.T) {
	loggedIn := false
	f := newBridge(t, "http://shop.invalid", doerFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method == http.MethodPost {
			loggedIn = true
			rec := httptest.NewRecorder()
			http.SetCookie(rec, &http.Cookie{Name: "OCSESSID", Value: "cust1"})
			rec.WriteHeader(http.StatusFound)
			return rec.Result(), nil
		}
		return nil, errors.New("connection reset")
	}))
	_, err := f.bridge.LoginViaAPI(context.Background(), shopper)
	require.NoError(t, err)
	require.True(t, loggedIn)

	f.bridge.Logout(context.Background())
	assert.Equal(t, Anonymous, f.bridge.State())
	assert.Len(t, f.mockLog.GetOutput(ldlog.Warn), 1)
}

func TestStartGuestSession(t *testing.T) {
	withShop(t, func(shop *storefronttest.Storefront, f bridgeFixture) {
		requests := shop.Record()
		token, err := f.bridge.StartGuestSession(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(token, "sess"))
		_, ok := shop.CustomerFor(token)
		assert.False(t, ok)
		assert.Equal(t, Anonymous, f.bridge.State())

		home := <-requests
		assert.Equal(t, http.MethodGet, home.Request.Method)
		removal := <-requests
		assert.Equal(t, http.MethodPost, removal.Request.Method)
		assert.Equal(t, "checkout/cart/remove", removal.Request.URL.Query().Get("route"))
		cookie, err := removal.Request.Cookie("OCSESSID")
		require.NoError(t, err)
		assert.Equal(t, token, cookie.Value)
	})
}

func TestStartGuestSessionRequiresJSONFromCartRemoval(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "OCSESSID", Value: "sess1"})
		if r.Method == http.MethodPost {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>Maintenance</body></html>"))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		f := newBridge(t, server.URL, NewHTTPClient(time.Second))

		_, err := f.bridge.StartGuestSession(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a JSON object")
	})
}

func TestStartGuestSessionCartRemovalStatus(t *testing.T) {
	handler := httphelpers.HandlerForMethod(http.MethodPost, httphelpers.HandlerWithStatus(http.StatusInternalServerError),
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "OCSESSID", Value: "sess1"})
			w.WriteHeader(http.StatusOK)
		}))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		f := newBridge(t, server.URL, NewHTTPClient(time.Second))

		_, err := f.bridge.StartGuestSession(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "500")
	})
}

func TestConfigDefaultsEachRoute(t *testing.T) {
	c := Config{Routes: Routes{Home: "/home"}}.withDefaults()
	assert.Equal(t, "/home", c.Routes.Home)
	assert.Equal(t, DefaultRoutes.Login, c.Routes.Login)
	assert.Equal(t, DefaultRoutes.RemoveCart, c.Routes.RemoveCart)
}

func TestCredentialStringHidesPassword(t *testing.T) {
	assert.Equal(t, "user1@example.com", shopper.String())
}
