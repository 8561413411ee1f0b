// Package e2e runs the storefront scenarios in a real browser against the fake shop. It needs
// Chrome (or a Playwright-managed Firefox) on the machine, so its tests only build with -tags e2e.
package e2e
