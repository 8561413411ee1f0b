// Package cart reads and changes the shopping cart of a storefront session over HTTP, using the
// same client, and so the same session cookie, as the session's auth.Bridge.
package cart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldlog"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

	"github.com/storefront-qa/storefront-e2e-tests/auth"
)

const maxBodySize = 1 << 20

// Routes are the storefront's cart endpoints, relative to the base URL.
type Routes struct {
	Cart   string
	Add    string
	Edit   string
	Remove string
}

var DefaultRoutes = Routes{
	Cart:   "/index.php?route=checkout/cart",
	Add:    "/index.php?route=checkout/cart/add",
	Edit:   "/index.php?route=checkout/cart/edit",
	Remove: "/index.php?route=checkout/cart/remove",
}

// Item is one line of the cart. Key identifies the line to Update and Remove.
type Item struct {
	Key       string
	ProductID int
	Quantity  int
}

// Client talks to the cart endpoints on behalf of one session.
type Client struct {
	baseURL string
	client  auth.Doer
	routes  Routes
	loggers ldlog.Loggers
}

type Option func(*Client)

func WithRoutes(routes Routes) Option {
	return func(c *Client) { c.routes = routes }
}

func WithLoggers(loggers ldlog.Loggers) Option {
	return func(c *Client) { c.loggers = loggers }
}

func NewClient(baseURL string, client auth.Doer, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		routes:  DefaultRoutes,
		loggers: ldlog.NewDisabledLoggers(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var quantityField = regexp.MustCompile(`^quantity\[([^\]]+)\]$`)

// Items returns the lines of the cart page in the order shown.
func (c *Client) Items(ctx context.Context) ([]Item, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.routes.Cart, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("cart page returned status %d", status)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not parse cart page: %w", err)
	}

	var items []Item
	doc.Find("input[name^='quantity[']").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		m := quantityField.FindStringSubmatch(name)
		if m == nil {
			return
		}
		item := Item{Key: m[1]}
		value, _ := input.Attr("value")
		item.Quantity, _ = strconv.Atoi(strings.TrimSpace(value))
		if href, ok := input.Closest("tr").Find("a[href*='product_id=']").First().Attr("href"); ok {
			if u, err := url.Parse(href); err == nil {
				item.ProductID, _ = strconv.Atoi(u.Query().Get("product_id"))
			}
		}
		items = append(items, item)
	})
	return items, nil
}

// Add puts quantity of a product into the cart. The storefront answers with a JSON object that
// has an "error" property if the product could not be added.
func (c *Client) Add(ctx context.Context, productID, quantity int) error {
	form := url.Values{"product_id": {strconv.Itoa(productID)}, "quantity": {strconv.Itoa(quantity)}}
	result, err := c.postJSON(ctx, c.routes.Add, form)
	if err != nil {
		return fmt.Errorf("could not add product %d to cart: %w", productID, err)
	}
	if e := result.GetByKey("error"); !e.IsNull() {
		return fmt.Errorf("could not add product %d to cart: %s", productID, e.JSONString())
	}
	c.loggers.Debugf("Added %d of product %d to cart", quantity, productID)
	return nil
}

// Update sets the quantity of a cart line. A quantity of 0 removes the line.
func (c *Client) Update(ctx context.Context, key string, quantity int) error {
	form := url.Values{"quantity[" + key + "]": {strconv.Itoa(quantity)}}
	status, _, err := c.do(ctx, http.MethodPost, c.routes.Edit, form)
	if err != nil {
		return fmt.Errorf("could not update cart line %s: %w", key, err)
	}
	if status != http.StatusOK && status != http.StatusFound {
		return fmt.Errorf("could not update cart line %s: unexpected status %d", key, status)
	}
	c.loggers.Debugf("Set quantity of cart line %s to %d", key, quantity)
	return nil
}

// Remove deletes a cart line.
func (c *Client) Remove(ctx context.Context, key string) error {
	if _, err := c.postJSON(ctx, c.routes.Remove, url.Values{"key": {key}}); err != nil {
		return fmt.Errorf("could not remove cart line %s: %w", key, err)
	}
	c.loggers.Debugf("Removed cart line %s", key)
	return nil
}

// Clear removes every line of the cart.
func (c *Client) Clear(ctx context.Context) error {
	items, err := c.Items(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := c.Remove(ctx, item.Key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, route string, form url.Values) (ldvalue.Value, error) {
	status, body, err := c.do(ctx, http.MethodPost, route, form)
	if err != nil {
		return ldvalue.Null(), err
	}
	if status != http.StatusOK {
		return ldvalue.Null(), fmt.Errorf("unexpected status %d", status)
	}
	result := ldvalue.Parse(body)
	if result.Type() != ldvalue.ObjectType {
		return ldvalue.Null(), fmt.Errorf("response is not a JSON object")
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, route string, form url.Values) (int, []byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, reqBody)
	if err != nil {
		return 0, nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	return resp.StatusCode, body, err
}
