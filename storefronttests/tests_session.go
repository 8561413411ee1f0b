package storefronttests

import (
	"context"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func DoSessionTests(t *T) {
	t.RunParallel(map[string]func(*T){
		"api login carries into browser": func(t *T) {
			t.SignIn(AccountRoute)
			exec := t.Execution()
			assert.True(t, exec.Auth.State().IsAuthenticated())
			assert.True(t, exec.Auth.Verify(), "browser does not show a logged-in page")
			t.RequireURLContains("route=account/account")
		},

		"guest session is anonymous": func(t *T) {
			exec := t.Execution()
			token, err := exec.Auth.StartGuestSession(context.Background())
			require.NoError(t, err)
			assert.NotEmpty(t, token)
			assert.False(t, exec.Auth.State().IsAuthenticated())
		},

		"logout ends the session": func(t *T) {
			t.SignIn(HomeRoute)
			exec := t.Execution()
			exec.Auth.Logout(context.Background())
			assert.False(t, exec.Auth.State().IsAuthenticated())
		},
	})
}
