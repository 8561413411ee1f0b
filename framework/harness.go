package framework

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

const listenerShutdownTimeout = time.Second * 5

// TestHarness is the process-wide state of a test run: the storefront under test, and the
// optional HTTP listener that exposes the run's status while it is in progress.
type TestHarness struct {
	storefrontURL  string
	storefrontInfo StorefrontInfo
	server         *http.Server
	logger         Logger
	lock           sync.Mutex
}

// NewTestHarness creates a TestHarness, and verifies that the storefront is responding by
// requesting its home page until it answers or startupTimeout expires.
func NewTestHarness(
	storefrontURL string,
	startupTimeout time.Duration,
	debugLogger Logger,
	startupOutput io.Writer,
) (*TestHarness, error) {
	if debugLogger == nil {
		debugLogger = NullLogger()
	}

	info, err := AwaitStorefront(storefrontURL, startupTimeout, startupOutput)
	if err != nil {
		return nil, err
	}

	return &TestHarness{
		storefrontURL:  storefrontURL,
		storefrontInfo: info,
		logger:         debugLogger,
	}, nil
}

func (h *TestHarness) StorefrontURL() string {
	return h.storefrontURL
}

func (h *TestHarness) StorefrontInfo() StorefrontInfo {
	return h.storefrontInfo
}

// Serve starts an HTTP listener on addr, such as ":9090", and returns the address it is
// listening on once it is accepting requests. HEAD requests to any path succeed, so the
// listener can be checked for liveness.
func (h *TestHarness) Serve(addr string, handler http.Handler) (string, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.server != nil {
		return "", errors.New("test harness is already listening")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	h.server = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "HEAD" {
				w.WriteHeader(200) // we use this to test whether the listener is active
				return
			}
			handler.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: time.Second * 10,
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Printf("Listener on %s stopped: %s", listener.Addr(), err)
		}
	}()
	return listener.Addr().String(), nil
}

// Close stops the listener started by Serve, if any.
func (h *TestHarness) Close() error {
	h.lock.Lock()
	server := h.server
	h.server = nil
	h.lock.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), listenerShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
