package execution

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"

	"github.com/storefront-qa/storefront-e2e-tests/auth"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
	"github.com/storefront-qa/storefront-e2e-tests/browser/browsertest"
	"github.com/storefront-qa/storefront-e2e-tests/pool"
	"github.com/storefront-qa/storefront-e2e-tests/storefronttest"
	"github.com/storefront-qa/storefront-e2e-tests/wait"
)

var credentials = []auth.Credential{
	{Email: "user1@example.com", Password: "secret1"},
	{Email: "user2@example.com", Password: "secret2"},
}

type fixture struct {
	resources *Resources
	sessions  []*browsertest.Session
	shop      *storefronttest.Storefront
}

// newFixture creates resources with n fake browser sessions available, talking to shop at
// baseURL.
func newFixture(t *testing.T, n int, baseURL string, opts ...pool.Option) *fixture {
	creds, err := pool.New(credentials, append([]pool.Option{pool.Strict()}, opts...)...)
	require.NoError(t, err)
	f := &fixture{}
	for i := 0; i < n; i++ {
		s := browsertest.NewSession(browser.Chrome)
		s.AddElement(browser.LinkText("My Account"), browsertest.NewElement())
		f.sessions = append(f.sessions, s)
	}
	f.resources = &Resources{
		Credentials: creds,
		Browsers:    browser.NewManager(browser.WithEngine(browser.Chrome, browsertest.Engine(f.sessions...))),
		Browser:     browser.Config{Kind: browser.Chrome, Headless: true},
		Auth:        auth.Config{BaseURL: baseURL},
		NewHTTPClient: func() auth.Doer {
			return auth.NewHTTPClient(5 * time.Second)
		},
		WaitOptions: []wait.Option{wait.WithClock(wait.NewStepClock())},
		Loggers:     ldlog.NewDisabledLoggers(),
	}
	return f
}

func withShop(t *testing.T, n int, action func(f *fixture)) {
	shop := storefronttest.New(map[string]string{
		credentials[0].Email: credentials[0].Password,
		credentials[1].Email: credentials[1].Password,
	})
	shop.Serve(func(server *httptest.Server) {
		f := newFixture(t, n, server.URL)
		f.shop = shop
		action(f)
	})
}

func TestRunSignsInAndReleasesEverything(t *testing.T) {
	withShop(t, 1, func(f *fixture) {
		var seen *Context
		err := f.resources.Run(context.Background(), "session/api login", func(c *Context) error {
			seen = c
			assert.Equal(t, credentials[0], c.Credential)
			if err := c.SignIn(context.Background(), "/index.php?route=common/home"); err != nil {
				return err
			}
			assert.True(t, c.Auth.State().IsAuthenticated())
			owned, ok := f.resources.Credentials.Owned(c.ID)
			assert.True(t, ok)
			assert.Equal(t, credentials[0], owned)
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, pool.Stats{Size: 2, Available: 2, Leased: 0}, f.resources.Credentials.Stats())
		assert.Equal(t, 0, f.resources.Browsers.Active())
		assert.Equal(t, 1, f.sessions[0].CloseCount())
		assert.Empty(t, f.sessions[0].Cookies())
		assert.False(t, seen.Auth.State().IsAuthenticated())
		assert.Equal(t, 1, f.shop.Logins())
		assert.Equal(t, 1, f.shop.Logouts())
	})
}

func TestContextsAreIsolated(t *testing.T) {
	withShop(t, 2, func(f *fixture) {
		a, err := f.resources.Begin(context.Background(), "a")
		require.NoError(t, err)
		b, err := f.resources.Begin(context.Background(), "b")
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
		assert.NotEqual(t, a.Credential, b.Credential)
		assert.NotSame(t, a.Session, b.Session)

		require.NoError(t, a.SignIn(context.Background(), "/"))
		assert.True(t, a.Auth.State().IsAuthenticated())
		assert.False(t, b.Auth.State().IsAuthenticated())
		assert.Empty(t, f.sessions[1].Cookies())

		require.NoError(t, a.Close(false))
		require.NoError(t, b.Close(false))
		assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
	})
}

func TestConcurrentRunsNeverShareCredentials(t *testing.T) {
	withShop(t, 8, func(f *fixture) {
		var (
			lock   sync.Mutex
			inUse  = map[string]bool{}
			maxUse int
			wg     sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := f.resources.Run(context.Background(), "concurrent", func(c *Context) error {
					lock.Lock()
					if inUse[c.Credential.Email] {
						t.Errorf("%s leased twice", c.Credential.Email)
					}
					inUse[c.Credential.Email] = true
					if len(inUse) > maxUse {
						maxUse = len(inUse)
					}
					lock.Unlock()

					time.Sleep(5 * time.Millisecond)

					lock.Lock()
					delete(inUse, c.Credential.Email)
					lock.Unlock()
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, maxUse, 2)
		assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
	})
}

func TestCartSharesTheContextSession(t *testing.T) {
	withShop(t, 2, func(f *fixture) {
		ctx := context.Background()
		a, err := f.resources.Begin(ctx, "a")
		require.NoError(t, err)
		b, err := f.resources.Begin(ctx, "b")
		require.NoError(t, err)

		token, err := a.Auth.StartGuestSession(ctx)
		require.NoError(t, err)
		require.NoError(t, a.Cart.Add(ctx, 40, 2))
		assert.Equal(t, map[int]int{40: 2}, f.shop.CartQuantities(token))

		_, err = b.Auth.StartGuestSession(ctx)
		require.NoError(t, err)
		items, err := b.Cart.Items(ctx)
		require.NoError(t, err)
		assert.Empty(t, items)

		require.NoError(t, a.Close(false))
		require.NoError(t, b.Close(false))
	})
}

func TestBeginReleasesCredentialIfBrowserFails(t *testing.T) {
	f := newFixture(t, 0, "https://shop.example.com")

	_, err := f.resources.Begin(context.Background(), "no browser")
	var pe *browser.ProvisioningError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
}

func TestBeginFailsWhenPoolIsExhausted(t *testing.T) {
	f := newFixture(t, 3, "https://shop.example.com", pool.AcquireTimeout(10*time.Millisecond))
	a, err := f.resources.Begin(context.Background(), "a")
	require.NoError(t, err)
	b, err := f.resources.Begin(context.Background(), "b")
	require.NoError(t, err)

	_, err = f.resources.Begin(context.Background(), "c")
	assert.True(t, errors.Is(err, pool.ErrExhausted))
	assert.Equal(t, 2, f.resources.Browsers.Active())

	require.NoError(t, a.Close(false))
	require.NoError(t, b.Close(false))
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t, 1, "https://shop.example.com")
	c, err := f.resources.Begin(context.Background(), "twice")
	require.NoError(t, err)

	require.NoError(t, c.Close(false))
	require.NoError(t, c.Close(false))
	assert.Equal(t, 1, f.sessions[0].CloseCount())
	assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
}

func TestCloseContinuesAfterErrors(t *testing.T) {
	f := newFixture(t, 1, "https://shop.example.com")
	f.sessions[0].FailClose(errors.New("browser crashed"))
	c, err := f.resources.Begin(context.Background(), "crash")
	require.NoError(t, err)

	err = c.Close(false)
	assert.ErrorContains(t, err, "browser crashed")
	assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
	assert.Equal(t, 0, f.resources.Browsers.Active())
}

func TestScreenshotOnFailure(t *testing.T) {
	f := newFixture(t, 2, "https://shop.example.com")
	f.resources.ScreenshotDir = filepath.Join(t.TempDir(), "shots")

	c, err := f.resources.Begin(context.Background(), "navigation/account link")
	require.NoError(t, err)
	require.NoError(t, c.Close(true))

	path := filepath.Join(f.resources.ScreenshotDir, "navigation-account-link-"+c.ID[:8]+".png")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG\r\n\x1a\n", string(data))

	c, err = f.resources.Begin(context.Background(), "passing")
	require.NoError(t, err)
	require.NoError(t, c.Close(false))
	entries, err := os.ReadDir(f.resources.ScreenshotDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunTurnsPanicIntoError(t *testing.T) {
	f := newFixture(t, 1, "https://shop.example.com")

	err := f.resources.Run(context.Background(), "panics", func(*Context) error {
		panic("boom")
	})
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
	assert.Equal(t, 0, f.resources.Browsers.Active())
}

func TestRunReturnsActionError(t *testing.T) {
	f := newFixture(t, 1, "https://shop.example.com")
	cause := errors.New("assertion failed")

	err := f.resources.Run(context.Background(), "fails", func(*Context) error { return cause })
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 2, f.resources.Credentials.Stats().Available)
}

func TestOpen(t *testing.T) {
	f := newFixture(t, 1, "https://shop.example.com/")
	c, err := f.resources.Begin(context.Background(), "open")
	require.NoError(t, err)
	defer c.Close(false)

	require.NoError(t, c.Open("/index.php?route=common/home"))
	assert.Equal(t, []string{"https://shop.example.com/index.php?route=common/home"}, f.sessions[0].Navigations())
}
