package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/storefront-qa/storefront-e2e-tests/auth"
	"github.com/storefront-qa/storefront-e2e-tests/browser"
)

func writeSettings(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeSettings(t, `{
		"baseUrl": "https://shop.example.com",
		"browser": "firefox",
		"headless": false,
		"users": ["user1@example.com", "user2@example.com"],
		"password": "secret",
		"parallelism": 4,
		"waitTimeoutMs": 15000
	}`)

	s, err := Load(path, map[string]string{})
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "https://shop.example.com", s.BaseURL)
	assert.Equal(t, browser.Firefox, s.BrowserKind())
	assert.False(t, s.IsHeadless())
	assert.Equal(t, []auth.Credential{
		{Email: "user1@example.com", Password: "secret"},
		{Email: "user2@example.com", Password: "secret"},
	}, s.Credentials())
	assert.Equal(t, 4, s.EffectiveParallelism())
	assert.Equal(t, 15*time.Second, s.WaitTimeout())
	assert.Equal(t, time.Duration(0), s.PollInterval())
	assert.False(t, s.AcquireTimeoutMS.IsDefined())
}

func TestDefaults(t *testing.T) {
	s, err := Load("", map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, browser.Chrome, s.BrowserKind())
	assert.True(t, s.IsHeadless())
	assert.Equal(t, DefaultParallelism, s.EffectiveParallelism())
	assert.Error(t, s.Validate())
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeSettings(t, `{"baseUrl": "https://shop.example.com", "users": ["file@example.com"], "parallelism": 4}`)

	s, err := Load(path, map[string]string{
		"STOREFRONT_BASE_URL": "http://staging.example.com",
		"TEST_USER_EMAILS":    "a@example.com, b@example.com,",
		"TEST_USER_PASSWORD":  "envsecret",
		"HEADLESS":            "false",
		"PARALLELISM":         "1",
		"BROWSER":             "Chrome",
	})
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "http://staging.example.com", s.BaseURL)
	assert.Equal(t, []auth.Credential{
		{Email: "a@example.com", Password: "envsecret"},
		{Email: "b@example.com", Password: "envsecret"},
	}, s.Credentials())
	assert.False(t, s.IsHeadless())
	assert.Equal(t, ldvalue.NewOptionalInt(1), s.Parallelism)
	assert.Equal(t, browser.Chrome, s.BrowserKind())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), map[string]string{})
	assert.Error(t, err)

	_, err = Load(writeSettings(t, `{"parallelism": "lots"}`), map[string]string{})
	assert.Error(t, err)

	_, err = Load("", map[string]string{"PARALLELISM": "lots"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Settings{BaseURL: "https://shop.example.com", Users: []string{"u@example.com"}}
	require.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*Settings){
		"no base URL":       func(s *Settings) { s.BaseURL = "" },
		"relative base URL": func(s *Settings) { s.BaseURL = "/shop" },
		"ftp base URL":      func(s *Settings) { s.BaseURL = "ftp://shop.example.com" },
		"no users":          func(s *Settings) { s.Users = []string{" "} },
		"duplicate users":   func(s *Settings) { s.Users = []string{"u@example.com", " U@example.com"} },
		"unknown browser":   func(s *Settings) { s.Browser = "netscape" },
		"zero parallelism":  func(s *Settings) { s.Parallelism = ldvalue.NewOptionalInt(0) },
		"negative timeout":  func(s *Settings) { s.WaitTimeoutMS = ldvalue.NewOptionalInt(-1) },
	} {
		t.Run(name, func(t *testing.T) {
			s := valid
			mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}
