package storefronttests

import (
	"github.com/stretchr/testify/assert"
)

func DoLoginFormTests(t *T) {
	t.RunParallel(map[string]func(*T){
		"rejects wrong password": func(t *T) {
			t.Open(LoginRoute)
			t.Type(EmailInput, t.Execution().Credential.Email)
			t.Type(PasswordInput, "not-the-password")
			t.Click(LoginButton)
			assert.Contains(t, t.RequireVisible(LoginAlert), "No match for E-Mail Address")
			assert.False(t, t.Execution().Auth.State().IsAuthenticated())
		},

		"accepts valid credentials": func(t *T) {
			exec := t.Execution()
			t.Open(LoginRoute)
			t.Type(EmailInput, exec.Credential.Email)
			t.Type(PasswordInput, exec.Credential.Password)
			t.Click(LoginButton)
			t.RequireURLContains("route=account/account")
		},
	})
}
