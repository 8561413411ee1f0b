package storefronttests

import (
	"github.com/storefront-qa/storefront-e2e-tests/execution"
	"github.com/storefront-qa/storefront-e2e-tests/framework"
)

// RunTestSuite runs every storefront scenario. Scenarios within a category run concurrently, at
// most parallelism at a time; categories run one after another.
func RunTestSuite(
	resources *execution.Resources,
	filter framework.Filter,
	testLogger framework.TestLogger,
	parallelism int,
) framework.Results {
	env := &environment{
		resources:   resources,
		parallelism: parallelism,
		metrics:     resources.Metrics,
	}
	return framework.Run(filter, testLogger, func(c *framework.Context) {
		t := newTestScope(c, env)

		t.Run("session", DoSessionTests)
		t.Run("navigation", DoNavigationTests)
		t.Run("login form", DoLoginFormTests)
		t.Run("cart", DoCartTests)
	})
}
