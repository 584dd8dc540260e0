package fetchclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFetch_OKWithAllowedType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer srv.Close()

	f := New(5*time.Second, "test-agent")
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, ClassOK, res.Classification)
	assert.Equal(t, 200, res.StatusCode)
	assert.Contains(t, string(res.Body), "hi")
}

func TestFetch_IgnoredType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 0x50})
	}))
	defer srv.Close()

	f := New(5*time.Second, "test-agent")
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, ClassIgnoredType, res.Classification)
	assert.Nil(t, res.Body)
}

func TestFetch_ClientErrorNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(5*time.Second, "test-agent")
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, ClassClientError, res.Classification)
	assert.Equal(t, 1, calls)
}

func TestFetch_TimeoutNoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("too slow"))
	}))
	defer srv.Close()

	f := New(10*time.Millisecond, "test-agent")
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, ClassTimeout, res.Classification)
	assert.Equal(t, 1, calls, "timeout must not be retried")
}

func TestFetch_ServerErrorRetriesTwice(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(5*time.Second, "test-agent")

	start := time.Now()
	res := f.Fetch(context.Background(), srv.URL)
	elapsed := time.Since(start)

	assert.Equal(t, ClassServerError, res.Classification)
	assert.Equal(t, 3, calls, "initial attempt plus 2 retries")
	assert.GreaterOrEqual(t, elapsed, 14*time.Second)
}
