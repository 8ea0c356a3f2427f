package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"net/http"
	"sync"

	"github.com/code4history/IIIF-MCP/internal/ports"
)

// Ensure compile-time conformance to ports.
var _ ports.BrowserOpener = (*RecordingBrowser)(nil)

// RecordingBrowser records opened URLs and can play the user's part through OnOpen,
// for example by requesting the callback URL embedded in the login URL.
type RecordingBrowser struct {
	// OnOpen runs in its own goroutine for each Open call.
	OnOpen func(rawURL string)
	// Err is returned from every Open call.
	Err error

	mu     sync.Mutex
	opened []string
	wg     sync.WaitGroup
}

func (b *RecordingBrowser) Open(_ context.Context, rawURL string) error {
	b.mu.Lock()
	b.opened = append(b.opened, rawURL)
	b.mu.Unlock()

	if b.OnOpen != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.OnOpen(rawURL)
		}()
	}
	return b.Err
}

// Opened returns a copy of every URL passed to Open.
func (b *RecordingBrowser) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

// Wait blocks until every OnOpen goroutine has returned.
func (b *RecordingBrowser) Wait() { b.wg.Wait() }

// VisitCallback issues a GET to target with the given cookie header, as a browser
// redirected back to the local callback endpoint would.
func VisitCallback(target, cookie string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	return resp, nil
}
