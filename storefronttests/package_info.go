// Package storefronttests contains the storefront end-to-end scenarios themselves and their
// supporting API.
//
// Test harness infrastructure that is not specific to the storefront, such as test contexts,
// filtering and result reporting, is in the lower-level framework package. The resources a
// scenario holds while it runs (a test account, a browser session, and that session's login
// state) come from the execution package.
package storefronttests
