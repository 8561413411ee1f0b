package framework

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// StorefrontInfo is what the harness learned about the storefront from its home page.
type StorefrontInfo struct {
	Title string
}

// AwaitStorefront requests the storefront's home page until it returns a successful response or
// timeout expires. Connection errors are retried, since the storefront may still be starting;
// an error status is not.
func AwaitStorefront(baseURL string, timeout time.Duration, output io.Writer) (StorefrontInfo, error) {
	url := strings.TrimSuffix(baseURL, "/") + "/"
	fmt.Fprintf(output, "Connecting to storefront at %s", url)

	client := &http.Client{Timeout: timeout}
	deadline := time.Now().Add(timeout)
	for {
		fmt.Fprintf(output, ".")
		resp, err := client.Get(url)
		if err == nil {
			fmt.Fprintln(output)
			defer resp.Body.Close()
			if resp.StatusCode != 200 {
				return StorefrontInfo{}, fmt.Errorf("storefront returned status code %d", resp.StatusCode)
			}
			doc, err := goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return StorefrontInfo{}, fmt.Errorf("malformed home page from storefront: %w", err)
			}
			info := StorefrontInfo{Title: strings.TrimSpace(doc.Find("title").First().Text())}
			fmt.Fprintf(output, "Storefront is up: %q\n", info.Title)
			return info, nil
		}
		if !time.Now().Before(deadline) {
			fmt.Fprintln(output)
			return StorefrontInfo{}, fmt.Errorf("timed out, result of last request was: %w", err)
		}
		time.Sleep(time.Millisecond * 100)
	}
}
