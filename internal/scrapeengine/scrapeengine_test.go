package scrapeengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Caia-Tech/crawlfleet/pkg/jobs"
)

func TestFetchReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	e := New()
	status, body, err := e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "hello", string(body))
}

func TestDispatchWrapsBodyAsOpaquePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	e := New()
	result, err := e.Dispatch(context.Background(), jobs.ScrapeJobDescriptor{
		JobID:     "job1",
		TenantID:  "t1",
		URL:       srv.URL,
		TimeoutMs: 5000,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "job1", result.JobID)
	assert.Equal(t, 200, result.Data["statusCode"].(int))
}

func TestDispatchMapsSiteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New()
	_, err := e.Dispatch(context.Background(), jobs.ScrapeJobDescriptor{
		JobID:     "job1",
		TenantID:  "t1",
		URL:       srv.URL,
		TimeoutMs: 5000,
	})
	require.Error(t, err)
	jerr := jobs.AsError(err)
	require.NotNil(t, jerr)
	assert.Equal(t, jobs.ErrScrapeSiteError, jerr.Code)
}

func TestSetCrawlDelayAffectsPacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	e := New()
	parsed, err := url.Parse(srv.URL)
	require.NoError(t, err)
	e.SetCrawlDelay(parsed.Hostname(), 50*time.Millisecond)

	_, _, err = e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	start := time.Now()
	_, _, err = e.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}
