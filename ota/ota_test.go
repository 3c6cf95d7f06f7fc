package ota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mklimuk/fanmon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
		err    error
	}{
		{"lower", http.StatusOK, "true", true, nil},
		{"title", http.StatusOK, " True\n", true, nil},
		{"no", http.StatusOK, "False", false, nil},
		{"garbage", http.StatusOK, "yes please", false, nil},
		{"server error", http.StatusInternalServerError, "true", false, fanmon.ErrRequestFailed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got Request
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewChecker(srv.URL, "a1b2c3", "1.4.0", srv.Client(), nil)
			ok, err := c.Check(context.Background())
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, ok)
			assert.Equal(t, Request{ID: "a1b2c3", Version: "1.4.0"}, got)
		})
	}
}

func TestRun_NotifiesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("true"))
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, "id", "1.0.0", srv.Client(), nil)
	calls := 0
	c.OnAvailable = func() { calls++ }
	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, calls)
	assert.True(t, c.Available())
}

func TestRun_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewChecker(url, "id", "1.0.0", nil, nil)
	err := c.Run(context.Background())
	assert.True(t, fanmon.IsNetworkError(err))
	assert.False(t, c.Available())
}

func TestDownload(t *testing.T) {
	c := NewChecker("http://localhost", "id", "1.0.0", nil, nil)
	assert.ErrorIs(t, c.Download(context.Background()), fanmon.ErrNotImplemented)
}
