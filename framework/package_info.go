// Package framework contains the low-level implementation of test harness infrastructure
// that is independent of what the tests actually exercise.
//
// The general model is:
//
// 1. The test harness drives a storefront web application that is already running. Before
// any tests start, it checks that the storefront's home page responds.
//
// 2. The test harness can optionally expose an HTTP listener, for instance to publish metrics
// about the run while it is in progress.
//
// 3. There is a general notion of a test context which is similar to Go's *testing.T,
// allowing pieces of test logic to be associated with a test identifier and to accumulate
// success/failure results. Tests can be grouped to run concurrently with a bounded number
// in flight.
//
// The domain-specific code that knows what is being tested is responsible for acquiring
// browsers and accounts for each test, and for providing a domain-specific test API on top
// of the test context.
package framework
