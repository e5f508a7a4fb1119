package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quotaHeaders(w http.ResponseWriter, limit, remaining int) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
}

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-key", r.Header.Get("API-Key"))
		quotaHeaders(w, 60, 59)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	body, err := c.Fetch(context.Background(), "/skyblock/auctions_ended", ModeNormal)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(body))
}

func TestClient_QueueSerializesCalls(t *testing.T) {
	var (
		mu       sync.Mutex
		inflight int
		peak     int
	)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()

		<-release

		mu.Lock()
		inflight--
		mu.Unlock()

		quotaHeaders(w, 60, 10)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Fetch(context.Background(), "/skyblock/auctions_ended", ModeNormal)
			require.NoError(t, err)
		}()
	}

	// Let the queue build up behind the first in-flight call, then let
	// everything through.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, peak, "queued calls must never overlap")
}

func TestClient_PriorityJumpsQueue(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()

		if r.URL.Path == "/a" {
			once.Do(func() { close(started) })
			<-release
		}

		quotaHeaders(w, 60, 10)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	var wg sync.WaitGroup
	fetch := func(path string, mode Mode) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fetch(context.Background(), path, mode)
		}()
	}

	fetch("/a", ModeNormal)
	<-started
	fetch("/b", ModeNormal)
	time.Sleep(50 * time.Millisecond)
	fetch("/c", ModePriority)
	time.Sleep(50 * time.Millisecond)

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"/a", "/c", "/b"}, order)
}

func TestClient_RateLimitedCallRecovers(t *testing.T) {
	var (
		mu       sync.Mutex
		dataHits int
		keyHits  int
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.URL.Path {
		case keyInfoPath:
			keyHits++
			quotaHeaders(w, 60, 5)
			w.Write([]byte(`{"success":true}`))
		default:
			dataHits++
			if dataHits == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			quotaHeaders(w, 60, 4)
			w.Write([]byte(`{"recovered":true}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", 100*time.Millisecond)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The first attempt hits the quota wall; the call must survive the
	// cooldown and resolve on the retry, transparently to the caller.
	body, err := c.Fetch(ctx, "/skyblock/auctions_ended", ModeNormal)
	require.NoError(t, err)
	require.JSONEq(t, `{"recovered":true}`, string(body))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, dataHits)
	require.GreaterOrEqual(t, keyHits, 1, "cooldown recovery probes the credential")
}

func TestClient_TransportFailureResolvesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // all connections will be refused

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	body, err := c.Fetch(context.Background(), "/skyblock/auctions_ended", ModeNormal)
	require.NoError(t, err)
	require.Nil(t, body)
}

func TestClient_FetchContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		quotaHeaders(w, 60, 10)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	// Occupy the single dispatch slot, then cancel a queued call.
	go c.Fetch(context.Background(), "/slow", ModeNormal)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, "/queued", ModeNormal)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ValidateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, keyInfoPath, r.URL.Path)
		quotaHeaders(w, 60, 10)
		if r.Header.Get("API-Key") == "good-key" {
			w.Write([]byte(`{"success":true}`))
			return
		}
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "good-key", time.Second)
	defer c.Close()

	valid, err := c.ValidateKey(context.Background(), "good-key")
	require.NoError(t, err)
	require.True(t, valid)

	// A foreign key bypasses the shared queue but still reports validity.
	valid, err = c.ValidateKey(context.Background(), "other-key")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestClient_AuctionPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/skyblock/auctions", r.URL.Path)
		require.Equal(t, "2", r.URL.Query().Get("page"))
		w.Write([]byte(`{"page":2,"totalPages":5,"totalAuctions":250,"auctions":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Second)
	defer c.Close()

	p, err := c.AuctionPage(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 2, p.Page)
	require.Equal(t, 5, p.TotalPages)
}
