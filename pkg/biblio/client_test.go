package biblio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/folio-graph/folio/pkg/common"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Params{
		BaseURL:           srv.URL,
		CoversURL:         "https://covers.test",
		MinInterval:       time.Millisecond,
		NetworkRetryDelay: time.Millisecond,
	})
	return c, srv
}

func TestFetchCachesResponses(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))

	for range 3 {
		body, err := c.Fetch(context.Background(), "/works/OL1W.json")
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
		if string(body) != `{"ok":true}` {
			t.Fatalf("body = %s", body)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
}

func TestFetchCollapsesConcurrentMisses(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, `{}`)
	}))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), "/authors/OL1A.json")
			errs <- err
		}()
	}

	// give every goroutine time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}
}

func TestFetchSurvivesCancelledFirstCaller(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"docs":[]}`)
	}))

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.Fetch(firstCtx, "/search.json?author=Frank+Herbert&title=Dune")
		first <- err
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan error, 1)
	var body []byte
	go func() {
		var err error
		body, err = c.Fetch(context.Background(), "/search.json?author=Frank+Herbert&title=Dune")
		second <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-second; err != nil {
		t.Fatalf("second caller error = %v", err)
	}
	if string(body) != `{"docs":[]}` {
		t.Fatalf("body = %s", body)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits = %d, want 1", got)
	}

	// the result of the shared fetch was cached for later callers
	if _, err := c.Fetch(context.Background(), "/search.json?author=Frank+Herbert&title=Dune"); err != nil {
		t.Fatalf("cached Fetch() error = %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server hits after cache = %d, want 1", got)
	}
}

func TestFetchRetriesOnceAfterNetworkFailure(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer cannot hijack")
				return
			}
			conn, _, _ := hj.Hijack()
			_ = conn.Close()
			return
		}
		_, _ = io.WriteString(w, `{"recovered":true}`)
	}))

	body, err := c.Fetch(context.Background(), "/search.json?q=dune")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(string(body), "recovered") {
		t.Fatalf("body = %s", body)
	}
	if got := hits.Load(); got != 2 {
		t.Fatalf("server hits = %d, want 2", got)
	}
}

func TestFetchClassifiesStatus(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantNotFound bool
	}{
		{"not found", http.StatusNotFound, true},
		{"unavailable", http.StatusServiceUnavailable, false},
		{"bad request", http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))

			_, err := c.Fetch(context.Background(), "/works/X.json")
			var ue *common.UpstreamError
			if !errors.As(err, &ue) || ue.Status != tt.status {
				t.Fatalf("error = %v, want UpstreamError with status %d", err, tt.status)
			}
			if errors.Is(err, common.ErrNotFound) != tt.wantNotFound {
				t.Fatalf("errors.Is(ErrNotFound) = %v, want %v", !tt.wantNotFound, tt.wantNotFound)
			}
			// status failures are left to the caller's retry policy
			if hits.Load() != 1 {
				t.Fatalf("server hits = %d, want 1", hits.Load())
			}
		})
	}
}

func TestThrottleSpacesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Params{BaseURL: srv.URL, MinInterval: 40 * time.Millisecond})

	start := time.Now()
	for _, p := range []string{"/a", "/b", "/c"} {
		if _, err := c.Fetch(context.Background(), p); err != nil {
			t.Fatalf("Fetch(%s) error = %v", p, err)
		}
	}
	// first call passes immediately, the next two wait one interval each
	if elapsed := time.Since(start); elapsed < 75*time.Millisecond {
		t.Fatalf("three calls took %v, want at least 80ms of spacing", elapsed)
	}
}
