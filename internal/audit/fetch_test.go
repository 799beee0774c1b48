package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "audit-test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	t.Cleanup(srv.Close)

	f := NewStaticFetcher("audit-test/1.0", 5*time.Second)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.Contains(t, string(page.Body), "hello")
	assert.Equal(t, srv.URL, page.URL)
}

func TestStaticFetchReportsErrorStatusAsPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := NewStaticFetcher("", 5*time.Second)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 404, page.StatusCode)
}

func TestStaticFetchFailsOnUnreachableHost(t *testing.T) {
	t.Parallel()

	f := NewStaticFetcher("", 2*time.Second)
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/nope")
	require.Error(t, err)
}
