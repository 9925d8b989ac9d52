package updater

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpsTestServer starts an httptest.NewTLSServer and returns a Fetcher
// wired with a Transport that trusts its certificate, so tests can exercise
// Get's https-only enforcement without hitting the network.
func httpsTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Fetcher) {
	t.Helper()
	srv := httptest.NewTLSServer(handler)
	t.Cleanup(srv.Close)

	f := &Fetcher{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	return srv, f
}

func TestFetcherGetRejectsPlainHTTP(t *testing.T) {
	f := NewFetcher()
	_, err := f.Get(context.Background(), "http://example.com/manifest.txt", "")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnsafeRedirect, kind)
}

func TestFetcherGetSuccess(t *testing.T) {
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("hello"))
	})

	resp, err := f.Get(context.Background(), srv.URL, "text/plain")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetcherGetContentTypeMismatch(t *testing.T) {
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("{}"))
	})

	_, err := f.Get(context.Background(), srv.URL, "text/plain")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindUnexpectedContentType, kind)
}

func TestFetcherGetFollowsRedirectWithinCap(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("done"))
	})
	srv, f := httpsTestServer(t, mux.ServeHTTP)

	resp, err := f.Get(context.Background(), srv.URL+"/start", "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetcherGetTooManyRedirects(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv, f := httpsTestServer(t, mux.ServeHTTP)

	_, err := f.Get(context.Background(), srv.URL+"/loop", "")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindTooManyRedirects, kind)
}

func TestFetcherGetNotFound(t *testing.T) {
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := f.Get(context.Background(), srv.URL, "")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindNotFound, kind)
}

func TestFetcherGetRetriesServerErrors(t *testing.T) {
	attempts := 0
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := f.Get(ctx, srv.URL, "")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 3, attempts)
}

func TestFetcherGetGivesUpAfterMaxRetries(t *testing.T) {
	attempts := 0
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := f.Get(ctx, srv.URL, "")
	require.Error(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindRequestFailed, kind)
	assert.Equal(t, MaxRetries+1, attempts)
}

func TestFetchJSON(t *testing.T) {
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"tag_name": "v1.2.3"})
	})

	var out map[string]string
	err := f.FetchJSON(context.Background(), srv.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", out["tag_name"])
}

func TestFetchAllJSONPagesFollowsLinkHeader(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/page1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Link", `<`+pageTwoURL+`>; rel="next"`)
		json.NewEncoder(w).Encode([]map[string]int{{"id": 1}})
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]int{{"id": 2}})
	})

	srv, f := httpsTestServer(t, mux.ServeHTTP)
	pageTwoURL = srv.URL + "/page2"

	pages, err := f.FetchAllJSONPages(context.Background(), srv.URL+"/page1")
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

// pageTwoURL is set by the test above before the handler closure runs,
// since the server's own URL isn't known until after it starts.
var pageTwoURL string

func TestFetchFileRemovesPartialOnError(t *testing.T) {
	srv, f := httpsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusNotFound)
	})

	dest := filepath.Join(t.TempDir(), "out.bin")
	_, err := f.FetchFile(context.Background(), srv.URL, dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestParseNextLink(t *testing.T) {
	assert.Equal(t, "", parseNextLink(""))
	assert.Equal(t, "https://api.example.com/p2", parseNextLink(`<https://api.example.com/p2>; rel="next"`))
	assert.Equal(t, "", parseNextLink(`<https://api.example.com/p1>; rel="prev"`))
	assert.Equal(t, "https://api.example.com/p2", parseNextLink(`<https://api.example.com/p1>; rel="prev", <https://api.example.com/p2>; rel="next"`))
}
