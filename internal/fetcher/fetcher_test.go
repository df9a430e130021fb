package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/newscrawl/internal/retry"
)

func fastRetry(n uint64) Option {
	return WithRetry(retry.Config{MaxRetries: n, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
}

func TestFetchSuccess(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><h1>Сбербанк</h1></html>"))
	}))
	defer srv.Close()

	f := New(5*time.Second, fastRetry(0))
	defer f.Close()

	body, err := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "<html><h1>Сбербанк</h1></html>", body)
	assert.Equal(t, DefaultUserAgent, gotUA)
}

func TestFetchDecodesLegacyCharset(t *testing.T) {
	// "Сбербанк" in windows-1251
	cp1251 := []byte{0xD1, 0xE1, 0xE5, 0xF0, 0xE1, 0xE0, 0xED, 0xEA}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.Write(append(append([]byte("<p>"), cp1251...), []byte("</p>")...))
	}))
	defer srv.Close()

	body, err := New(5*time.Second, fastRetry(0)).Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "<p>Сбербанк</p>", body)
}

func TestFetchStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   uint64
		wantCalls int32
		temporary bool
	}{
		{"server error without retries", http.StatusInternalServerError, 0, 1, true},
		{"server error retried", http.StatusBadGateway, 2, 3, true},
		{"not found is permanent", http.StatusNotFound, 3, 1, false},
		{"forbidden is permanent", http.StatusForbidden, 3, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := New(5*time.Second, fastRetry(tt.retries)).Fetch(context.Background(), srv.URL)

			var se *StatusError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.temporary, se.Temporary())
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, err := New(5*time.Second, fastRetry(2)).Fetch(context.Background(), srv.URL)

	require.NoError(t, err)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(time.Second, fastRetry(0)).Fetch(context.Background(), url)

	require.Error(t, err)
	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{URL: "https://ria.ru/x", StatusCode: 500}
	assert.Equal(t, "GET https://ria.ru/x: unexpected status 500 Internal Server Error", err.Error())
}
