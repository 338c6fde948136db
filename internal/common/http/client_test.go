package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient_Defaults(t *testing.T) {
	client := NewHTTPClient()
	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.IsType(t, &userAgentTransport{}, client.Transport)
}

func TestNewHTTPClientWithTimeout(t *testing.T) {
	client := NewHTTPClientWithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestUserAgentTransport(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	resp, err := NewHTTPClient().Get(server.URL)
	require.NoError(t, err)
	DrainAndClose(resp.Body)
	assert.Equal(t, UserAgent, got)

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	req.Header.Set("User-Agent", "custom")
	resp, err = NewHTTPClient().Do(req)
	require.NoError(t, err)
	DrainAndClose(resp.Body)
	assert.Equal(t, "custom", got)
}

func TestCheckStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ok")
	require.NoError(t, err)
	assert.NoError(t, CheckStatus(resp))
	DrainAndClose(resp.Body)

	resp, err = http.Get(server.URL + "/bad")
	require.NoError(t, err)
	err = CheckStatus(resp)
	DrainAndClose(resp.Body)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "nope")
}
