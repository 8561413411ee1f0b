package storefronttests

import (
	"github.com/stretchr/testify/assert"
)

func DoNavigationTests(t *T) {
	t.RunParallel(map[string]func(*T){
		"home page loads": func(t *T) {
			t.Open(HomeRoute)
			t.RequireVisible(PageContent)
		},

		"account link opens account page": func(t *T) {
			t.SignIn(HomeRoute)
			t.Click(MyAccountLink)
			t.RequireURLContains("route=account/account")
			assert.Contains(t, t.RequireVisible(PageContent), "My Account")
		},
	})
}
