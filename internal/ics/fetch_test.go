package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ConditionalRequestsAndFallback(t *testing.T) {
	var requests atomic.Int32
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	ctx := context.Background()
	f := NewFetcher(t.TempDir(), srv.Client())
	src := Source{ID: "remote", URL: srv.URL + "/cal.ics?token=abc"}

	res, err := f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Contains(t, string(res.Body), "BEGIN:VCALENDAR")

	res, err = f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "304 served from cache")

	down.Store(true)
	res, err = f.Fetch(ctx, src)
	require.NoError(t, err)
	assert.True(t, res.FromCache, "origin errors fall back to cache")
	assert.EqualValues(t, 3, requests.Load())

	_, err = NewFetcher(t.TempDir(), srv.Client()).Fetch(ctx, src)
	assert.Error(t, err, "no cache to fall back to")
}

func TestFetcher_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.ics")
	require.NoError(t, os.WriteFile(path, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600))

	f := NewFetcher(t.TempDir(), nil)
	res, err := f.Fetch(context.Background(), Source{ID: "local", Path: path})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Body)

	_, err = f.Fetch(context.Background(), Source{ID: "missing", Path: path + ".nope"})
	assert.Error(t, err)

	_, err = f.Fetch(context.Background(), Source{ID: "empty"})
	assert.Error(t, err)
}
