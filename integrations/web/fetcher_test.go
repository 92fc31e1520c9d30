package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!doctype html>
<html><head><title>Tracking</title><style>body{color:red}</style>
<script>alert("x")</script></head>
<body><h1>Parcel   delivered</h1><p>Signed by &amp; left at door.</p></body></html>`

func TestRenderTextStripsMarkup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "p2pescrow-evidence/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := NewFetcher(Config{})
	text, err := f.Render(context.Background(), srv.URL, ModeText)
	require.NoError(t, err)
	require.Contains(t, text, "Parcel delivered")
	require.Contains(t, text, "Signed by & left at door.")
	require.NotContains(t, text, "<h1>")
	require.NotContains(t, text, "alert")
	require.NotContains(t, text, "color:red")
}

func TestRenderHTMLSanitises(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	out, err := NewFetcher(Config{}).Render(context.Background(), srv.URL, ModeHTML)
	require.NoError(t, err)
	require.Contains(t, out, "<h1>")
	require.NotContains(t, out, "<script>")
}

func TestRenderRejectsBadInput(t *testing.T) {
	f := NewFetcher(Config{})
	_, err := f.Render(context.Background(), "ftp://example.com/file", ModeText)
	require.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = f.Render(context.Background(), "https://example.com", "pdf")
	require.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestRenderFailsOnErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFetcher(Config{}).Render(context.Background(), srv.URL, ModeText)
	require.ErrorContains(t, err, "status 404")
}

func TestRenderRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok now"))
	}))
	defer srv.Close()

	f := NewFetcher(Config{Attempts: 2, RetryDelay: time.Millisecond})
	text, err := f.Render(context.Background(), srv.URL, ModeText)
	require.NoError(t, err)
	require.Equal(t, "ok now", text)
	require.Equal(t, int32(2), hits.Load())
}

func TestRenderCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	text, err := NewFetcher(Config{MaxBodyBytes: 4}).Render(context.Background(), srv.URL, ModeText)
	require.NoError(t, err)
	require.Equal(t, "0123", text)
}
