package withings

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedsync/internal/common/errors"
	"bedsync/internal/oauth2"
)

type staticTokens struct {
	token string
	calls atomic.Int32
}

func (s *staticTokens) Do(ctx context.Context, call func(ctx context.Context, accessToken string) error) error {
	s.calls.Add(1)
	return call(ctx, s.token)
}

func newTestClient(t *testing.T, upstream *httptest.Server, tokens TokenSource) *Client {
	t.Helper()
	client, err := NewClient(Config{
		ClientID:    "client",
		AuthURL:     "https://account.withings.com/oauth2_user/authorize2",
		NotifyURL:   upstream.URL + "/notify",
		SleepURL:    upstream.URL + "/v2/sleep",
		Scope:       "user.sleepevents",
		CallbackURL: "https://bridge.example.com/webhook",
	}, tokens)
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{CallbackURL: "x"}, &staticTokens{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = NewClient(Config{ClientID: "c"}, &staticTokens{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = NewClient(Config{ClientID: "c", CallbackURL: "x"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestClient_AuthorizeURL(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	client := newTestClient(t, upstream, &staticTokens{})

	raw := client.AuthorizeURL("state-123")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "account.withings.com", parsed.Host)
	assert.Equal(t, "/oauth2_user/authorize2", parsed.Path)
	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "client", query.Get("client_id"))
	assert.Equal(t, "https://bridge.example.com/webhook", query.Get("redirect_uri"))
	assert.Equal(t, "user.sleepevents", query.Get("scope"))
	assert.Equal(t, "state-123", query.Get("state"))
}

func TestClient_Subscribe(t *testing.T) {
	var mu sync.Mutex
	var applis []string

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notify", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.Equal(t, "subscribe", r.PostForm.Get("action"))
		assert.Equal(t, "https://bridge.example.com/webhook", r.PostForm.Get("callbackurl"))

		mu.Lock()
		applis = append(applis, r.PostForm.Get("appli"))
		mu.Unlock()

		_, _ = w.Write([]byte(`{"status":0,"body":{}}`))
	}))
	defer upstream.Close()

	tokens := &staticTokens{token: "access"}
	client := newTestClient(t, upstream, tokens)

	require.NoError(t, client.Subscribe(context.Background()))
	assert.Equal(t, []string{"50", "51"}, applis)
	assert.Equal(t, int32(2), tokens.calls.Load())
}

func TestClient_SubscribeStopsAfterFailure(t *testing.T) {
	var requests atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"status":293,"error":"callback url unreachable"}`))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream, &staticTokens{token: "access"})

	err := client.Subscribe(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamCall))
	assert.Contains(t, err.Error(), "callback url unreachable")
	assert.Equal(t, int32(1), requests.Load())
}

func TestClient_SubscribeCancelled(t *testing.T) {
	var requests atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`{"status":0,"body":{}}`))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream, &staticTokens{token: "access"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := client.Subscribe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, requests.Load())
}

func TestClient_UnauthorizedWrapsTokenRejected(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name: "envelope status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":401,"error":"invalid_token"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(tt.handler)
			defer upstream.Close()
			client := newTestClient(t, upstream, &staticTokens{token: "access"})

			err := client.SubscribeAppli(context.Background(), AppliBedIn)
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, oauth2.ErrTokenRejected))
		})
	}
}

func TestClient_GetSleep(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Hour)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/sleep", r.URL.Path)
		assert.Equal(t, "get", r.URL.Query().Get("action"))
		assert.Equal(t, fmt.Sprint(start.Unix()), r.URL.Query().Get("startdate"))
		assert.Equal(t, fmt.Sprint(end.Unix()), r.URL.Query().Get("enddate"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{"status":0,"body":{"series":[
			{"startdate":1709330400,"enddate":1709334000,"state":1,"in_bed":1},
			{"startdate":1709334000,"enddate":1709337600,"state":0,"in_bed":0}
		],"more":false,"offset":0}}`))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream, &staticTokens{token: "access"})

	series, err := client.GetSleep(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.True(t, series[0].Occupied())
	assert.False(t, series[1].Occupied())
	assert.Equal(t, time.Unix(1709334000, 0).UTC(), series[1].Start())
}

func TestClient_GetSleepEmpty(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("startdate"))
		_, _ = w.Write([]byte(`{"status":0,"body":{"series":[]}}`))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream, &staticTokens{token: "access"})

	series, err := client.GetSleep(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestClient_ServerError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream, &staticTokens{token: "access"})

	_, err := client.GetSleep(context.Background(), time.Time{}, time.Time{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeUpstreamCall))
	assert.False(t, stderrors.Is(err, oauth2.ErrTokenRejected))
}

// A rejected token goes through the manager's single refresh and retry.
func TestClient_RejectedTokenRefreshedOnce(t *testing.T) {
	var refreshes atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := refreshes.Add(1)
		fmt.Fprintf(w, `{"status":0,"body":{"access_token":"access-%d","refresh_token":"refresh-%d","expires_in":10800,"userid":"1"}}`, n, n)
	}))
	defer tokenServer.Close()

	var subscribeCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subscribeCalls.Add(1)
		if r.Header.Get("Authorization") == "Bearer access-0" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"status":0,"body":{}}`))
	}))
	defer upstream.Close()

	storage := oauth2.NewMemoryTokenStorage()
	require.NoError(t, storage.SaveToken(context.Background(), &oauth2.Token{
		AccessToken:  "access-0",
		RefreshToken: "refresh-0",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	manager, err := oauth2.NewManager(oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
	}, storage)
	require.NoError(t, err)

	client := newTestClient(t, upstream, manager)

	require.NoError(t, client.SubscribeAppli(context.Background(), AppliBedOut))
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), subscribeCalls.Load())
}
